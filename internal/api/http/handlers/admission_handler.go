package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/gatekeeper/internal/admission"
)

// snapshotter is implemented by window stores that can report their state.
type snapshotter interface {
	Snapshot(now time.Time) []admission.State
}

// AdmissionHandler reports the admission policy and, for the in-memory store, live window state.
type AdmissionHandler struct {
	policy  admission.Policy
	backend string
	store   admission.Store
	now     func() time.Time
}

// NewAdmissionHandler constructs handler.
func NewAdmissionHandler(policy admission.Policy, backend string, store admission.Store) *AdmissionHandler {
	return &AdmissionHandler{policy: policy, backend: backend, store: store, now: time.Now}
}

type classView struct {
	Class       string     `json:"class"`
	Limit       int        `json:"limit"`
	Count       *int       `json:"count,omitempty"`
	WindowStart *time.Time `json:"window_start,omitempty"`
}

// Status handles GET /api/admin/admission.
func (h *AdmissionHandler) Status(c *fiber.Ctx) error {
	views := make([]classView, 0, len(admission.Classes))
	for _, class := range admission.Classes {
		views = append(views, classView{Class: string(class), Limit: h.policy.Limits[class]})
	}

	if snap, ok := h.store.(snapshotter); ok {
		for _, st := range snap.Snapshot(h.now()) {
			for i := range views {
				if views[i].Class != string(st.Class) {
					continue
				}
				count := st.Count
				views[i].Count = &count
				if !st.WindowStart.IsZero() {
					start := st.WindowStart
					views[i].WindowStart = &start
				}
			}
		}
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"backend":        h.backend,
			"window_seconds": int(h.policy.Window.Seconds()),
			"classes":        views,
		},
	})
}
