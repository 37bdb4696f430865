package moderation

import "sort"

// AdminSet is built once from configuration and never changes afterwards.
// The owner is always an admin.
type AdminSet struct {
	ownerID int64
	admins  map[int64]struct{}
}

func NewAdminSet(ownerID int64, adminIDs []int64) AdminSet {
	m := make(map[int64]struct{}, len(adminIDs)+1)
	for _, id := range adminIDs {
		if id != 0 {
			m[id] = struct{}{}
		}
	}
	if ownerID != 0 {
		m[ownerID] = struct{}{}
	}
	return AdminSet{ownerID: ownerID, admins: m}
}

func (a AdminSet) OwnerID() int64 { return a.ownerID }

func (a AdminSet) IsOwner(id int64) bool { return id != 0 && id == a.ownerID }

func (a AdminSet) IsAdmin(id int64) bool {
	if id == 0 {
		return false
	}
	_, ok := a.admins[id]
	return ok
}

// IDs returns every admin id including the owner, ascending.
func (a AdminSet) IDs() []int64 {
	out := make([]int64, 0, len(a.admins))
	for id := range a.admins {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
