// Package confirm delivers locally decided assignments to the remote
// authority, best-effort. Delivery is queued and retried off the hot
// path: the presentation pipeline never blocks on confirmation.
package confirm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
)

const (
	// queueSize is the buffer size for the confirmation queue.
	queueSize = 1000

	// deliveryTimeout bounds one delivery attempt including retries.
	deliveryTimeout = 30 * time.Second
)

// Confirmer records an acknowledged assignment as confirmed.
type Confirmer interface {
	Confirm(ctx context.Context, userID string, assignment campaign.ConfirmableAssignment) error
}

// Dispatcher queues assignments and delivers them to the remote
// endpoint with exponential backoff. On successful delivery the
// assignment is moved from unconfirmed to confirmed through the
// Confirmer.
type Dispatcher struct {
	confirmer Confirmer
	client    *http.Client
	endpoint  string
	apiKey    string
	maxTries  uint

	queue  chan job
	done   chan struct{}
	closed int32 // atomic flag to prevent double-close
}

type job struct {
	userID     string
	assignment campaign.ConfirmableAssignment
}

// NewDispatcher creates a Dispatcher delivering to endpoint. An empty
// endpoint means there is no remote authority; assignments are then
// confirmed locally right away, which keeps development setups working.
func NewDispatcher(confirmer Confirmer, endpoint, apiKey string, maxTries uint) *Dispatcher {
	if maxTries == 0 {
		maxTries = 5
	}
	return &Dispatcher{
		confirmer: confirmer,
		client:    &http.Client{Timeout: 10 * time.Second},
		endpoint:  endpoint,
		apiKey:    apiKey,
		maxTries:  maxTries,
		queue:     make(chan job, queueSize),
		done:      make(chan struct{}),
	}
}

// Start begins processing queued confirmations.
func (d *Dispatcher) Start() {
	go d.worker()
}

// Close shuts the dispatcher down, draining pending confirmations.
// Safe to call multiple times.
func (d *Dispatcher) Close() error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return nil
	}
	close(d.queue)
	<-d.done
	return nil
}

// Dispatch queues an assignment for confirmation. Non-blocking: when
// the queue is full the assignment is dropped and stays unconfirmed,
// to be re-dispatched by a later request.
func (d *Dispatcher) Dispatch(userID string, assignment campaign.ConfirmableAssignment) {
	select {
	case d.queue <- job{userID: userID, assignment: assignment}:
	default:
		log.Printf("[confirm] queue full (size=%d), dropping assignment: user=%s experiment=%s",
			queueSize, userID, assignment.ExperimentID)
	}
}

// QueueDepth reports the number of pending confirmations, for metrics.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *Dispatcher) worker() {
	defer close(d.done)

	for j := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := d.deliver(ctx, j)
		cancel()
		if err != nil {
			log.Printf("[confirm] delivery failed: user=%s experiment=%s error=%v",
				j.userID, j.assignment.ExperimentID, err)
			continue
		}

		if err := d.confirmer.Confirm(context.Background(), j.userID, j.assignment); err != nil {
			log.Printf("[confirm] recording confirmation failed: user=%s experiment=%s error=%v",
				j.userID, j.assignment.ExperimentID, err)
		}
	}
}

// deliver posts the assignment, retrying transient failures with
// exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, j job) error {
	if d.endpoint == "" {
		return nil
	}

	operation := func() (struct{}, error) {
		return struct{}{}, d.post(ctx, j)
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(d.maxTries),
	)
	return err
}

func (d *Dispatcher) post(ctx context.Context, j job) error {
	payload := struct {
		UserID      string                `json:"userId"`
		Assignments []campaign.Assignment `json:"assignments"`
	}{
		UserID: j.userID,
		Assignments: []campaign.Assignment{{
			ExperimentID: j.assignment.ExperimentID,
			VariantID:    j.assignment.Variant.ID,
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// The server rejected the assignment outright; retrying the
		// same payload cannot succeed.
		return backoff.Permanent(fmt.Errorf("confirmation rejected with status %d", resp.StatusCode))
	}
	return fmt.Errorf("confirmation failed with status %d", resp.StatusCode)
}
