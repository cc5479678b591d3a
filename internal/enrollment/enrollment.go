// Package enrollment registers new identities, or replaces the face of an
// existing one, in storage and in the live gallery.
package enrollment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/sirupsen/logrus"
)

// Status is the overall outcome of an enrollment attempt.
type Status string

const (
	StatusEnrolled Status = "enrolled"
	StatusRejected Status = "rejected"
)

// Reason explains why an enrollment was rejected.
type Reason string

const (
	ReasonNoEmbedding      Reason = "no_embedding"
	ReasonMissingField     Reason = "missing_field"
	ReasonInvalidRole      Reason = "invalid_role"
	ReasonInvalidEmbedding Reason = "invalid_embedding"
)

// similarCandidates bounds how many neighbours are checked for a possible
// double registration.
const similarCandidates = 5

// Fields is the identity data supplied with an enrollment.
type Fields struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Role        string `json:"role" yaml:"role"`
	Branch      string `json:"branch,omitempty" yaml:"branch"`
	Designation string `json:"designation,omitempty" yaml:"designation"`
}

// Outcome reports what Enroll did. A rejection is a normal outcome, not an error.
type Outcome struct {
	Status   Status              `json:"status"`
	Reason   Reason              `json:"reason,omitempty"`
	Field    string              `json:"field,omitempty"` // set with ReasonMissingField
	Detail   string              `json:"detail,omitempty"`
	Updated  bool                `json:"updated"` // the ID already existed
	Identity *database.Identity  `json:"identity,omitempty"`
	Similar  []gallery.Candidate `json:"-"`
}

// Enrolled reports whether the identity was stored.
func (o Outcome) Enrolled() bool { return o.Status == StatusEnrolled }

func rejected(reason Reason, field, detail string) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason, Field: field, Detail: detail}
}

// Service performs enrollments against a store and a gallery.
type Service struct {
	store     database.IdentityWriter
	gallery   *gallery.Gallery
	tolerance float64
	log       logrus.FieldLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per identity, held across store and gallery writes
}

// NewService creates an enrollment service. tolerance is the match tolerance
// used to flag faces that look like an already enrolled identity.
func NewService(store database.IdentityWriter, g *gallery.Gallery, tolerance float64, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store:     store,
		gallery:   g,
		tolerance: tolerance,
		log:       log.WithField("component", "enrollment"),
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor returns the write lock for an identity ID.
func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// validate normalizes fields into an Identity or returns the rejection.
func validate(f Fields) (database.Identity, *Outcome) {
	id := database.Identity{
		ID:          strings.TrimSpace(f.ID),
		Name:        strings.TrimSpace(f.Name),
		Branch:      strings.TrimSpace(f.Branch),
		Designation: strings.TrimSpace(f.Designation),
	}

	if id.ID == "" {
		o := rejected(ReasonMissingField, "id", "")
		return id, &o
	}
	if id.Name == "" {
		o := rejected(ReasonMissingField, "name", "")
		return id, &o
	}
	if strings.TrimSpace(f.Role) == "" {
		o := rejected(ReasonMissingField, "role", "")
		return id, &o
	}
	role, err := database.ParseRole(f.Role)
	if err != nil {
		o := rejected(ReasonInvalidRole, "role", err.Error())
		return id, &o
	}
	id.Role = role

	switch role {
	case database.RoleStudent:
		if id.Branch == "" {
			o := rejected(ReasonMissingField, "branch", "")
			return id, &o
		}
	case database.RoleTeacher:
		if id.Designation == "" {
			o := rejected(ReasonMissingField, "designation", "")
			return id, &o
		}
	}
	return id, nil
}

// Enroll validates the fields and embedding, writes them to storage and then
// to the gallery. An existing ID is updated in place (Outcome.Updated), never
// duplicated. Storage errors are returned as errors and leave the gallery
// untouched. Enrollments of the same ID are serialized, so storage and the
// gallery always end up holding the same embedding.
func (s *Service) Enroll(ctx context.Context, f Fields, e embedding.Embedding) (Outcome, error) {
	if len(e) == 0 {
		return rejected(ReasonNoEmbedding, "", "no face embedding supplied"), nil
	}

	identity, rej := validate(f)
	if rej != nil {
		return *rej, nil
	}

	if err := e.Validate(); err != nil {
		return rejected(ReasonInvalidEmbedding, "", err.Error()), nil
	}

	lock := s.lockFor(identity.ID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.store.FindIdentity(ctx, identity.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("looking up identity %s: %w", identity.ID, err)
	}

	similar := s.similar(identity.ID, e)

	if err := s.store.UpsertIdentity(ctx, identity, e); err != nil {
		return Outcome{}, fmt.Errorf("storing identity %s: %w", identity.ID, err)
	}
	if err := s.gallery.Upsert(identity, e); err != nil {
		// Validated above, so this only fires on a programming error.
		return Outcome{}, fmt.Errorf("updating gallery for %s: %w", identity.ID, err)
	}

	fields := logrus.Fields{
		"identity_id": identity.ID,
		"role":        identity.Role,
		"updated":     existing != nil,
	}
	if len(similar) > 0 {
		ids := make([]string, len(similar))
		for i, c := range similar {
			ids[i] = c.Entry.Identity.ID
		}
		fields["similar_to"] = strings.Join(ids, ",")
		s.log.WithFields(fields).Warn("Enrolled face is within tolerance of another identity")
	} else {
		s.log.WithFields(fields).Info("Identity enrolled")
	}

	return Outcome{
		Status:   StatusEnrolled,
		Updated:  existing != nil,
		Identity: &identity,
		Similar:  similar,
	}, nil
}

// similar returns other identities whose enrolled face is within tolerance.
func (s *Service) similar(id string, e embedding.Embedding) []gallery.Candidate {
	var out []gallery.Candidate
	for _, c := range s.gallery.Nearest(e, similarCandidates+1) {
		if c.Entry.Identity.ID == id || c.Distance > s.tolerance {
			continue
		}
		out = append(out, c)
	}
	return out
}
