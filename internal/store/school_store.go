package store

const keySchoolID = "school_id"

// SchoolContextStore holds the active school identifier for an admin client.
// Always durable: the canonical dashboard URL embeds the id and a reload must
// resolve back to the same tenant. This is a pure cache; the identity API is
// responsible for validating that the school exists and the admin may use it.
type SchoolContextStore struct {
	durable Tier
}

// NewSchoolContextStore builds the store over the durable tier.
func NewSchoolContextStore(durable Tier) *SchoolContextStore {
	return &SchoolContextStore{durable: durable}
}

// SchoolID returns the active school identifier, if one was confirmed.
func (s *SchoolContextStore) SchoolID() (string, bool) {
	v, ok := s.durable.Get(keySchoolID)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// SetSchoolID records a confirmed school selection. Only the school-login
// completion path may call this; an id merely embedded in a URL is never
// written here.
func (s *SchoolContextStore) SetSchoolID(id string) {
	s.durable.Set(keySchoolID, id)
}

// ClearSchoolID removes the school selection.
func (s *SchoolContextStore) ClearSchoolID() {
	s.durable.Delete(keySchoolID)
}
