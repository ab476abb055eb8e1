package authz

import (
	"sort"

	"github.com/pathlight-hq/pathlight/internal/models"
)

// Capability names a single action on a resource. Each resource family has a
// closed capability set; resolvers never answer about capabilities outside
// the family they were asked about.
type Capability string

const (
	CapView    Capability = "view"
	CapComment Capability = "comment"
	CapSuggest Capability = "suggest"
	CapApprove Capability = "approve"
	CapEdit    Capability = "edit"
	CapDelete  Capability = "delete"
	CapShare   Capability = "share"

	CapInvite         Capability = "invite"
	CapRemoveMember   Capability = "remove_member"
	CapChangeRole     Capability = "change_role"
	CapViewAnalytics  Capability = "view_analytics"
	CapManageSettings Capability = "manage_settings"

	CapPost     Capability = "post"
	CapModerate Capability = "moderate"
)

// CapabilitySet is an unordered set of capabilities.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Clone returns an independent copy of the set.
func (s CapabilitySet) Clone() CapabilitySet {
	out := make(CapabilitySet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Sorted returns the set's members in lexical order, for stable output.
func (s CapabilitySet) Sorted() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// familyCapabilities is the closed capability set per resource family.
var familyCapabilities = map[models.ObjectType]CapabilitySet{
	models.ObjectDocument: NewCapabilitySet(CapView, CapComment, CapSuggest, CapApprove, CapEdit, CapDelete, CapShare),
	models.ObjectProfile:  NewCapabilitySet(CapView, CapComment, CapEdit),
	models.ObjectJob:      NewCapabilitySet(CapView, CapComment, CapEdit, CapDelete),
	models.ObjectTeam:     NewCapabilitySet(CapView, CapInvite, CapRemoveMember, CapChangeRole, CapViewAnalytics, CapManageSettings),
	models.ObjectGroup:    NewCapabilitySet(CapView, CapPost, CapInvite, CapModerate, CapManageSettings),
}

// FamilyCapabilities returns a copy of the capability set for a resource
// family, or nil for unknown families.
func FamilyCapabilities(resourceType models.ObjectType) CapabilitySet {
	set, ok := familyCapabilities[resourceType]
	if !ok {
		return nil
	}
	return set.Clone()
}

// ValidCapability reports whether the capability belongs to the resource
// family's closed set.
func ValidCapability(resourceType models.ObjectType, capability Capability) bool {
	set, ok := familyCapabilities[resourceType]
	if !ok {
		return false
	}
	return set.Has(capability)
}
