// Package console maps abstract mixer capabilities to the concrete
// addressable paths of a specific console variant.
//
// The mapping is loaded once from static per-variant definitions and is
// read-only afterwards.
package console

import (
	"sort"
	"strconv"
	"strings"
)

// Capability names a console function independent of its concrete path.
type Capability string

const (
	CapInputMute    Capability = "input.mute"
	CapInputPhantom Capability = "input.phantom"
	CapInputGain    Capability = "input.gain"
	CapOutputLevel  Capability = "output.level"
	CapOutputMute   Capability = "output.mute"
)

// Group names a logical set of input channels.
type Group string

const (
	GroupStageInputs Group = "StageInputs"
	GroupPlayback    Group = "Playback"
	GroupMics        Group = "Mics"
)

// channelToken is the placeholder replaced by the channel number when a
// per-channel path template is expanded.
const channelToken = "{ch}"

// Limits describes the fixed resource bounds of a console variant.
type Limits struct {
	Channels int
	Buses    int
}

// Variant describes one console model: its capability→path mapping, its
// limits, and its semantic-group membership. Immutable once built.
type Variant struct {
	Name   string
	Limits Limits

	// paths maps capabilities to path templates. Per-channel templates
	// contain the {ch} placeholder; global paths do not.
	paths map[Capability]string

	// groups maps semantic groups to the channel numbers they cover.
	groups map[Group][]int
}

// NewVariant builds a variant definition. Paths maps capabilities to
// path templates ({ch} is replaced by the channel number); groups maps
// semantic groups to their member channels.
func NewVariant(name string, limits Limits, paths map[Capability]string, groups map[Group][]int) *Variant {
	return &Variant{Name: name, Limits: limits, paths: paths, groups: groups}
}

// Capabilities returns the sorted capability names this variant supports.
func (v *Variant) Capabilities() []Capability {
	caps := make([]Capability, 0, len(v.paths))
	for c := range v.paths {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// Supports reports whether the variant implements the capability.
func (v *Variant) Supports(capability Capability) bool {
	_, ok := v.paths[capability]
	return ok
}

// GroupChannels returns the channel numbers belonging to a semantic group.
func (v *Variant) GroupChannels(group Group) ([]int, bool) {
	channels, ok := v.groups[group]
	return channels, ok
}

// expand substitutes a channel number into a path template.
func expand(template string, channel int) string {
	return strings.ReplaceAll(template, channelToken, strconv.Itoa(channel))
}

// channelRange builds the inclusive channel list [from, to].
func channelRange(from, to int) []int {
	channels := make([]int, 0, to-from+1)
	for ch := from; ch <= to; ch++ {
		channels = append(channels, ch)
	}
	return channels
}

// BuiltinVariants returns the static definitions for the console models
// this client knows how to drive.
func BuiltinVariants() []*Variant {
	return []*Variant{
		{
			Name:   "x32",
			Limits: Limits{Channels: 32, Buses: 16},
			paths: map[Capability]string{
				CapInputMute:    "ch.{ch}.mute",
				CapInputPhantom: "ch.{ch}.preamp.phantom",
				CapInputGain:    "ch.{ch}.preamp.gain",
				CapOutputLevel:  "main.st.level",
				CapOutputMute:   "main.st.mute",
			},
			groups: map[Group][]int{
				GroupStageInputs: channelRange(1, 24),
				GroupMics:        channelRange(1, 12),
				GroupPlayback:    channelRange(25, 28),
			},
		},
		{
			Name:   "xr18",
			Limits: Limits{Channels: 18, Buses: 6},
			paths: map[Capability]string{
				CapInputMute:    "ch.{ch}.mute",
				CapInputPhantom: "ch.{ch}.preamp.phantom",
				CapInputGain:    "ch.{ch}.preamp.gain",
				CapOutputLevel:  "lr.level",
				CapOutputMute:   "lr.mute",
			},
			groups: map[Group][]int{
				GroupStageInputs: channelRange(1, 12),
				GroupMics:        channelRange(1, 8),
				GroupPlayback:    channelRange(17, 18),
			},
		},
		{
			Name:   "wing",
			Limits: Limits{Channels: 48, Buses: 24},
			paths: map[Capability]string{
				CapInputMute:    "ch.{ch}.mute",
				CapInputPhantom: "ch.{ch}.in.phantom",
				CapInputGain:    "ch.{ch}.in.gain",
				CapOutputLevel:  "main.1.level",
				CapOutputMute:   "main.1.mute",
			},
			groups: map[Group][]int{
				GroupStageInputs: channelRange(1, 32),
				GroupMics:        channelRange(1, 16),
				GroupPlayback:    channelRange(41, 44),
			},
		},
		{
			// The Ui24R exposes no remote phantom control, and its
			// stagebox inputs are not addressable as a group.
			Name:   "ui24r",
			Limits: Limits{Channels: 24, Buses: 8},
			paths: map[Capability]string{
				CapInputMute:   "input.{ch}.mute",
				CapInputGain:   "input.{ch}.gain",
				CapOutputLevel: "master.level",
				CapOutputMute:  "master.mute",
			},
			groups: map[Group][]int{
				GroupMics:     channelRange(1, 10),
				GroupPlayback: channelRange(23, 24),
			},
		},
	}
}
