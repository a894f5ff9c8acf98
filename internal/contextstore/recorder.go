package contextstore

import (
	"context"

	"github.com/fyrsmithlabs/toolgate/internal/activation"
)

// ActivationDomain is the session domain used for recorded activations.
const ActivationDomain = "activation"

// Recorder logs each activation as a session in a Store.
type Recorder struct {
	store *Store
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

var _ activation.ContextRecorder = (*Recorder)(nil)

// RecordActivation implements activation.ContextRecorder.
func (r *Recorder) RecordActivation(ctx context.Context, e activation.Entry) error {
	_, err := r.store.AddSession(ctx, Session{
		Date:         e.ResolvedAt,
		Domain:       ActivationDomain,
		Deliverables: []string{e.URN},
		Actor:        e.ActorID,
	})
	return err
}
