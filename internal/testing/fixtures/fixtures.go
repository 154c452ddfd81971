// Package fixtures provides test data factories for sect stores.
//
// Each factory method creates entities with sensible defaults while allowing
// customization via option functions. Factories write through the store's
// repository methods and return fully populated models.
//
// Usage:
//
//	f := fixtures.New(memory.New())
//	sect := f.CreateSect(t, "leader")
//	f.AddMember(t, sect, "member-1")
package fixtures

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
)

// Store is what the factory needs to seed data
type Store interface {
	service.SectRepository
	SummonRaid(ctx context.Context, sectID string, raid *model.RaidInstance) error
}

// Factory creates test entities in a store
type Factory struct {
	store Store
	now   func() time.Time
}

// New creates a new fixture factory
func New(store Store) *Factory {
	return &Factory{store: store, now: time.Now}
}

// WithClock stamps created records with now instead of the wall clock
func (f *Factory) WithClock(now func() time.Time) *Factory {
	f.now = now
	return f
}

// randomID generates a random hex ID
func randomID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ============================================================================
// Sect Factories
// ============================================================================

// SectOpts customizes sect creation
type SectOpts struct {
	Name      string
	Buildings map[model.BuildingKind]int
}

// WithSectName sets the sect name
func WithSectName(name string) func(*SectOpts) {
	return func(o *SectOpts) { o.Name = name }
}

// WithBuilding builds kind at level right after creation
func WithBuilding(kind model.BuildingKind, level int) func(*SectOpts) {
	return func(o *SectOpts) {
		if o.Buildings == nil {
			o.Buildings = make(map[model.BuildingKind]int)
		}
		o.Buildings[kind] = level
	}
}

// CreateSect creates an active level 1 sect led by leaderID
func (f *Factory) CreateSect(t *testing.T, leaderID string, opts ...func(*SectOpts)) *model.Sect {
	t.Helper()

	o := &SectOpts{Name: "Sect " + randomID()}
	for _, opt := range opts {
		opt(o)
	}

	now := f.now().UTC()
	sect := &model.Sect{
		Name:      o.Name,
		Active:    true,
		Level:     1,
		Buildings: []model.SectBuilding{},
		CreatedOn: now,
		UpdatedOn: now,
	}
	leader := &model.SectMembership{
		UserID:   leaderID,
		Role:     model.SectRoleLeader,
		Active:   true,
		JoinedOn: now,
	}
	if err := f.store.CreateSect(context.Background(), sect, leader); err != nil {
		t.Fatalf("fixtures: failed to create sect: %v", err)
	}

	for kind, level := range o.Buildings {
		f.SetBuilding(t, sect, kind, level)
	}
	return sect
}

// AddMember joins userID to the sect as a plain member
func (f *Factory) AddMember(t *testing.T, sect *model.Sect, userID string) *model.SectMembership {
	t.Helper()
	return f.addMemberWithRole(t, sect, userID, model.SectRoleMember)
}

// AddElder joins userID to the sect as an elder
func (f *Factory) AddElder(t *testing.T, sect *model.Sect, userID string) *model.SectMembership {
	t.Helper()
	return f.addMemberWithRole(t, sect, userID, model.SectRoleElder)
}

func (f *Factory) addMemberWithRole(t *testing.T, sect *model.Sect, userID string, role model.SectRole) *model.SectMembership {
	t.Helper()

	membership := &model.SectMembership{
		SectID:   sect.ID,
		UserID:   userID,
		Role:     role,
		Active:   true,
		JoinedOn: f.now().UTC(),
	}
	if err := f.store.AddMembership(context.Background(), membership, 1000); err != nil {
		t.Fatalf("fixtures: failed to add %s to %s: %v", userID, sect.ID, err)
	}
	return membership
}

// SetBuilding sets a building level and mirrors it on the passed sect
func (f *Factory) SetBuilding(t *testing.T, sect *model.Sect, kind model.BuildingKind, level int) {
	t.Helper()

	if err := f.store.SetBuildingLevel(context.Background(), sect.ID, kind, level); err != nil {
		t.Fatalf("fixtures: failed to set %s to level %d: %v", kind, level, err)
	}
	for i := range sect.Buildings {
		if sect.Buildings[i].Kind == kind {
			sect.Buildings[i].Level = level
			return
		}
	}
	sect.Buildings = append(sect.Buildings, model.SectBuilding{Kind: kind, Level: level})
}

// ============================================================================
// Raid Factories
// ============================================================================

// SummonRaid installs a boss with the given health for weekKey
func (f *Factory) SummonRaid(t *testing.T, sect *model.Sect, weekKey string, health int64) *model.RaidInstance {
	t.Helper()

	raid := &model.RaidInstance{
		BossID:          "boss-" + randomID(),
		HealthRemaining: health,
		HealthMax:       health,
		WeekKey:         weekKey,
		SummonedAt:      f.now().UTC(),
	}
	if err := f.store.SummonRaid(context.Background(), sect.ID, raid); err != nil {
		t.Fatalf("fixtures: failed to summon raid: %v", err)
	}
	sect.Raid = raid
	return raid
}
