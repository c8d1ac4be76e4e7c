package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vigilsec/vigil/internal/errors"
)

// Decision is the outcome of an admission request.
type Decision int

const (
	// DecisionAccepted means the job may start running immediately.
	DecisionAccepted Decision = iota
	// DecisionQueued means the job was parked in its account's FIFO queue.
	DecisionQueued
	// DecisionRejected means the account's queue is full.
	DecisionRejected
)

// Admitted identifies a queued job that gained admission after a release.
type Admitted struct {
	JobID     uuid.UUID
	AccountID uuid.UUID
}

type queueEntry struct {
	jobID     uuid.UUID
	accountID uuid.UUID
	seq       uint64
}

// AdmissionController enforces the global and per-account concurrency
// bounds. Jobs beyond the running limits wait in per-account FIFO queues;
// a queue past its depth limit rejects new submissions outright.
//
// All methods are safe for concurrent use.
type AdmissionController struct {
	mu sync.Mutex

	maxGlobal     int
	maxPerAccount int
	maxQueueDepth int

	running       int
	runningByAcct map[uuid.UUID]int
	queues        map[uuid.UUID][]queueEntry
	queuedTotal   int
	nextSeq       uint64
}

// NewAdmissionController creates a controller with the given bounds.
func NewAdmissionController(maxGlobal, maxPerAccount, maxQueueDepth int) *AdmissionController {
	return &AdmissionController{
		maxGlobal:     maxGlobal,
		maxPerAccount: maxPerAccount,
		maxQueueDepth: maxQueueDepth,
		runningByAcct: make(map[uuid.UUID]int),
		queues:        make(map[uuid.UUID][]queueEntry),
	}
}

// Admit decides the fate of a new submission. Accepted jobs count as
// running from this moment; queued jobs wait for a Release. A rejection
// returns a TooManyPendingJobs error alongside the decision.
func (a *AdmissionController) Admit(accountID, jobID uuid.UUID) (Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	queue := a.queues[accountID]

	// Capacity only admits directly when nothing is already waiting for
	// this account, preserving FIFO order within the account.
	if len(queue) == 0 && a.hasCapacityLocked(accountID) {
		a.running++
		a.runningByAcct[accountID]++
		return DecisionAccepted, nil
	}

	if len(queue) >= a.maxQueueDepth {
		return DecisionRejected, errors.NewTooManyPendingJobs(accountID, len(queue), a.maxQueueDepth)
	}

	a.nextSeq++
	a.queues[accountID] = append(queue, queueEntry{
		jobID:     jobID,
		accountID: accountID,
		seq:       a.nextSeq,
	})
	a.queuedTotal++
	return DecisionQueued, nil
}

// Release returns one running slot for the account and admits as many
// queued jobs as the freed capacity allows: the releasing account's queue
// head first, then the oldest queued job of any account, repeating while
// global capacity remains.
func (a *AdmissionController) Release(accountID uuid.UUID) []Admitted {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running > 0 {
		a.running--
	}
	if a.runningByAcct[accountID] > 0 {
		a.runningByAcct[accountID]--
		if a.runningByAcct[accountID] == 0 {
			delete(a.runningByAcct, accountID)
		}
	}

	var admitted []Admitted

	// Same-account head gets first claim on the freed slot.
	if entry, ok := a.popHeadLocked(accountID); ok {
		a.running++
		a.runningByAcct[accountID]++
		admitted = append(admitted, Admitted{JobID: entry.jobID, AccountID: entry.accountID})
	}

	// Any remaining global capacity drains the oldest eligible entries
	// across all accounts.
	for a.running < a.maxGlobal {
		entry, ok := a.popOldestEligibleLocked()
		if !ok {
			break
		}
		a.running++
		a.runningByAcct[entry.accountID]++
		admitted = append(admitted, Admitted{JobID: entry.jobID, AccountID: entry.accountID})
	}

	return admitted
}

// RemoveQueued withdraws a queued job, typically because it was stopped
// before it ever ran. Returns false if the job was not queued.
func (a *AdmissionController) RemoveQueued(accountID, jobID uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	queue := a.queues[accountID]
	for i, entry := range queue {
		if entry.jobID == jobID {
			a.queues[accountID] = append(queue[:i], queue[i+1:]...)
			if len(a.queues[accountID]) == 0 {
				delete(a.queues, accountID)
			}
			a.queuedTotal--
			return true
		}
	}
	return false
}

// Running returns the number of jobs currently holding a running slot.
func (a *AdmissionController) Running() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Queued returns the total number of queued jobs across all accounts.
func (a *AdmissionController) Queued() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queuedTotal
}

// hasCapacityLocked reports whether a new job for the account can run now.
func (a *AdmissionController) hasCapacityLocked(accountID uuid.UUID) bool {
	return a.running < a.maxGlobal && a.runningByAcct[accountID] < a.maxPerAccount
}

// popHeadLocked removes and returns the account's queue head if the
// account can run another job.
func (a *AdmissionController) popHeadLocked(accountID uuid.UUID) (queueEntry, bool) {
	queue := a.queues[accountID]
	if len(queue) == 0 || !a.hasCapacityLocked(accountID) {
		return queueEntry{}, false
	}

	entry := queue[0]
	if len(queue) == 1 {
		delete(a.queues, accountID)
	} else {
		a.queues[accountID] = queue[1:]
	}
	a.queuedTotal--
	return entry, true
}

// popOldestEligibleLocked removes and returns the globally oldest queue
// head whose account is under its per-account limit.
func (a *AdmissionController) popOldestEligibleLocked() (queueEntry, bool) {
	var (
		best     queueEntry
		bestAcct uuid.UUID
		found    bool
	)

	for accountID, queue := range a.queues {
		if len(queue) == 0 || a.runningByAcct[accountID] >= a.maxPerAccount {
			continue
		}
		head := queue[0]
		if !found || head.seq < best.seq {
			best = head
			bestAcct = accountID
			found = true
		}
	}

	if !found {
		return queueEntry{}, false
	}

	queue := a.queues[bestAcct]
	if len(queue) == 1 {
		delete(a.queues, bestAcct)
	} else {
		a.queues[bestAcct] = queue[1:]
	}
	a.queuedTotal--
	return best, true
}
