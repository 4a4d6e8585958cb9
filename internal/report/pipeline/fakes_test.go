package pipeline

import (
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/internal/report/generator"
	"github.com/stpericial/stpericial-backend/internal/report/renderer"
	"github.com/stpericial/stpericial-backend/internal/report/repository"
	apperrors "github.com/stpericial/stpericial-backend/pkg/errors"
)

// world is an in-memory stand-in for the database
type world struct {
	mu       sync.Mutex
	cases    map[string]*domain.CaseSummary
	evidence map[string]domain.EvidenceItem
	victims  map[string]domain.VictimRecord
	users    map[string]*domain.User
	general  map[string]domain.GeneralReport
	expert   map[string]domain.ExpertReport
}

func newWorld() *world {
	return &world{
		cases:    map[string]*domain.CaseSummary{},
		evidence: map[string]domain.EvidenceItem{},
		victims:  map[string]domain.VictimRecord{},
		users:    map[string]*domain.User{},
		general:  map[string]domain.GeneralReport{},
		expert:   map[string]domain.ExpertReport{},
	}
}

type caseStore struct{ *world }

func (s caseStore) GetByID(ctx context.Context, id string) (*domain.CaseSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, apperrors.NotFoundWithKey("case")
	}
	cp := *c
	return &cp, nil
}

type evidenceStore struct{ *world }

func (s evidenceStore) ListByCase(ctx context.Context, caseID string) ([]domain.EvidenceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.EvidenceItem{}
	for _, e := range s.evidence {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s evidenceStore) GetByID(ctx context.Context, id string) (*domain.EvidenceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.evidence[id]
	if !ok {
		return nil, apperrors.NotFoundWithKey("evidence")
	}
	return &e, nil
}

func (s evidenceStore) ListByIDs(ctx context.Context, ids []string) ([]domain.EvidenceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.EvidenceItem{}
	for _, id := range ids {
		if e, ok := s.evidence[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

type victimStore struct{ *world }

func (s victimStore) ListByIDs(ctx context.Context, ids []string) ([]domain.VictimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.VictimRecord{}
	for _, id := range ids {
		if v, ok := s.victims[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

type userStore struct{ *world }

func (s userStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.NotFoundWithKey("user")
	}
	return u, nil
}

type generalStore struct {
	*world
	createErr   error
	markSentErr error
}

func (s *generalStore) Create(ctx context.Context, r *domain.GeneralReport) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = r.CreatedAt.UTC().Truncate(time.Second)
	r.UpdatedAt = r.CreatedAt
	s.general[r.ID] = *r
	return nil
}

func (s *generalStore) GetByID(ctx context.Context, id string) (*domain.GeneralReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.general[id]
	if !ok {
		return nil, apperrors.NotFoundWithKey("general_report")
	}
	return &r, nil
}

func (s *generalStore) Finalize(ctx context.Context, id string, sig domain.Signature, signedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.general[id]
	if !ok || r.Status != domain.StatusDraft {
		return repository.ErrNotDraft
	}
	r.Status = domain.StatusFinalized
	r.Signature = &sig.Value
	r.KeyID = &sig.KeyID
	r.SignedAt = &signedAt
	s.general[id] = r
	return nil
}

func (s *generalStore) MarkSent(ctx context.Context, id string) error {
	if s.markSentErr != nil {
		return s.markSentErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.general[id]
	if !ok || !r.Status.IsSigned() {
		return apperrors.BadRequest("report is not finalized")
	}
	r.Status = domain.StatusSent
	s.general[id] = r
	return nil
}

type expertStore struct{ *world }

func (s expertStore) Create(ctx context.Context, r *domain.ExpertReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.expert {
		if existing.EvidenceID == r.EvidenceID {
			return apperrors.Conflict("expert report for evidence already exists")
		}
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.EmittedAt = r.EmittedAt.UTC().Truncate(time.Second)
	s.expert[r.ID] = *r
	return nil
}

func (s expertStore) GetByID(ctx context.Context, id string) (*domain.ExpertReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.expert[id]
	if !ok {
		return nil, apperrors.NotFoundWithKey("expert_report")
	}
	return &r, nil
}

func (s expertStore) ListByIDs(ctx context.Context, ids []string) ([]domain.ExpertReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.ExpertReport{}
	for _, id := range ids {
		if r, ok := s.expert[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s expertStore) ListByEvidenceIDs(ctx context.Context, evidenceIDs []string) ([]domain.ExpertReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range evidenceIDs {
		want[id] = true
	}
	out := []domain.ExpertReport{}
	for _, r := range s.expert {
		if want[r.EvidenceID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EvidenceID < out[j].EvidenceID })
	return out, nil
}

func (s expertStore) Finalize(ctx context.Context, id string, sig domain.Signature, signedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.expert[id]
	if !ok || r.Status != domain.StatusDraft {
		return repository.ErrNotDraft
	}
	r.Status = domain.StatusFinalized
	r.Signature = &sig.Value
	r.KeyID = &sig.KeyID
	r.SignedAt = &signedAt
	s.expert[id] = r
	return nil
}

func (s expertStore) MarkSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.expert[id]
	if !ok || !r.Status.IsSigned() {
		return apperrors.BadRequest("report is not finalized")
	}
	r.Status = domain.StatusSent
	s.expert[id] = r
	return nil
}

// fakeGenerator answers drafts through fn and counts calls
type fakeGenerator struct {
	fn    func(pc generator.PromptContext) (string, error)
	calls atomic.Int32
}

func (g *fakeGenerator) Draft(ctx context.Context, pc generator.PromptContext) (string, error) {
	g.calls.Add(1)
	return g.fn(pc)
}

type failingSigner struct{ err error }

func (s failingSigner) Sign(content string) (domain.Signature, error) {
	return domain.Signature{}, s.err
}

func (s failingSigner) Verify(content string, sig domain.Signature) bool {
	return false
}

type failingRenderer struct{ err error }

func (r failingRenderer) Render(ctx context.Context, v *renderer.View, w io.Writer) error {
	return r.err
}

func (r failingRenderer) RenderBytes(ctx context.Context, v *renderer.View) ([]byte, error) {
	return nil, r.err
}
