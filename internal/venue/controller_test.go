package venue

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarfld/MixingStation-API-Client-sub001/internal/console"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/guardrail"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/hub"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/intent"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/state"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/transport"
)

// fakeSession is a controllable venue.Session.
type fakeSession struct {
	mu    sync.Mutex
	state transport.State
	ops   []transport.Operation
	subs  []string
}

func (s *fakeSession) State() transport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) setState(st transport.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *fakeSession) Send(_ context.Context, op transport.Operation) (transport.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	return transport.Ack{Path: op.Path, Value: op.Value}, nil
}

func (s *fakeSession) Subscribe(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, path)
	return nil
}

func (s *fakeSession) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

type testRig struct {
	session    *fakeSession
	store      *state.Store
	controller *Controller
}

func newTestRig(t *testing.T, rules []guardrail.Rule) *testRig {
	t.Helper()

	registry := console.NewRegistry()
	store := state.NewStore()
	session := &fakeSession{state: transport.StateConnected}
	log := zerolog.Nop()

	modes := map[Mode]intent.Intent{
		ModeDoors: {
			Name:   "doors",
			Groups: map[console.Group]intent.GroupAction{console.GroupStageInputs: intent.ActionMute},
		},
		ModeShow: {
			Name:   "show",
			Groups: map[console.Group]intent.GroupAction{console.GroupStageInputs: intent.ActionUnmute},
		},
	}

	controller := New(Config{
		Session:  session,
		Registry: registry,
		Resolver: intent.NewResolver(registry, store, log),
		Engine:   guardrail.NewEngine(registry, log),
		Hub:      hub.NewHub(store, hub.DefaultDebounceWindow, log),
		Store:    store,
		Variant:  "xr18",
		Modes:    modes,
		Rules:    rules,
		Logger:   log,
	})

	return &testRig{session: session, store: store, controller: controller}
}

func TestSwitchModeInvalidMode(t *testing.T) {
	rig := newTestRig(t, nil)

	report, err := rig.controller.SwitchMode(context.Background(), Mode("afterparty"))
	assert.Nil(t, report)

	var msErr *ModeSwitchError
	require.ErrorAs(t, err, &msErr)
	require.ErrorIs(t, err, ErrInvalidMode)
	assert.Zero(t, rig.session.sendCount(), "no operation may be attempted")
}

func TestSwitchModeNotConnected(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.session.setState(transport.StateReconnecting)

	_, err := rig.controller.SwitchMode(context.Background(), ModeDoors)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, rig.session.sendCount())
}

func TestSwitchModeAppliesAndIsIdempotent(t *testing.T) {
	rig := newTestRig(t, nil)

	first, err := rig.controller.SwitchMode(context.Background(), ModeDoors)
	require.NoError(t, err)
	// xr18 StageInputs covers channels 1..12.
	assert.Equal(t, 12, first.Count(intent.OutcomeApplied))
	assert.Equal(t, ModeDoors, rig.controller.CurrentMode())

	second, err := rig.controller.SwitchMode(context.Background(), ModeDoors)
	require.NoError(t, err)
	assert.Zero(t, second.Count(intent.OutcomeApplied))
	assert.Equal(t, 12, second.Count(intent.OutcomeIgnored))
}

func TestSetGroupStateAndReadback(t *testing.T) {
	rig := newTestRig(t, nil)

	err := rig.controller.SetGroupState(context.Background(), console.GroupMics, intent.ActionMute)
	require.NoError(t, err)

	st, err := rig.controller.GroupState(console.GroupMics)
	require.NoError(t, err)
	assert.Equal(t, GroupMuted, st)
}

func TestGroupStateMixedAndUnknown(t *testing.T) {
	rig := newTestRig(t, nil)

	// Playback on the xr18 is channels 17 and 18.
	rig.store.Set("ch.17.mute", true)

	st, err := rig.controller.GroupState(console.GroupPlayback)
	require.NoError(t, err)
	assert.Equal(t, GroupUnknown, st, "a member without last-known state makes the group unknown")

	rig.store.Set("ch.18.mute", false)
	st, err = rig.controller.GroupState(console.GroupPlayback)
	require.NoError(t, err)
	assert.Equal(t, GroupMixed, st)

	rig.store.Set("ch.18.mute", true)
	st, err = rig.controller.GroupState(console.GroupPlayback)
	require.NoError(t, err)
	assert.Equal(t, GroupMuted, st)
}

func TestSetGroupStateNotConnected(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.session.setState(transport.StateIdle)

	err := rig.controller.SetGroupState(context.Background(), console.GroupMics, intent.ActionMute)

	var gErr *GroupOpError
	require.ErrorAs(t, err, &gErr)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestEnforceOnceCorrectsViolation(t *testing.T) {
	rules := []guardrail.Rule{{
		Name:     "no-phantom-on-line-inputs",
		Kind:     guardrail.KindPhantomAllowlist,
		Mode:     guardrail.ModeEnforce,
		Channels: []int{1, 2},
	}}
	rig := newTestRig(t, rules)

	// Phantom enabled on a channel outside the allow-list.
	rig.store.Set("ch.5.preamp.phantom", true)

	report, err := rig.controller.EnforceOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, guardrail.StatusResolved, report.Violations[0].Status)
	assert.Equal(t, "ch.5.preamp.phantom", report.Violations[0].Path)
}

func TestEnforceOnceNotConnected(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.session.setState(transport.StateFailed)

	_, err := rig.controller.EnforceOnce(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestPrimeSubscribesAndClassifies(t *testing.T) {
	rules := []guardrail.Rule{{
		Name:    "curfew-limit",
		Kind:    guardrail.KindOutputCeiling,
		Mode:    guardrail.ModeAudit,
		Ceiling: -6,
	}}
	rig := newTestRig(t, rules)

	require.NoError(t, rig.controller.Prime(context.Background()))
	assert.Equal(t, []string{""}, rig.session.subs, "primes one root subscription")
}
