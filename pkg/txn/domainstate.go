package txn

import (
	"github.com/pkg/errors"

	"delta/pkg/actions"
	"delta/pkg/snapshot"
)

// domainMetadataState buffers the domain changes of one transaction. The
// computed list is memoised and invalidated on every mutation.
type domainMetadataState struct {
	toAdd       map[string]*actions.DomainMetadata
	toRemove    map[string]bool
	computed    []*actions.DomainMetadata
	computedSet bool
}

func newDomainMetadataState() *domainMetadataState {
	return &domainMetadataState{
		toAdd:    make(map[string]*actions.DomainMetadata),
		toRemove: make(map[string]bool),
	}
}

func (s *domainMetadataState) add(domain, configuration string) error {
	if s.toRemove[domain] {
		return errors.Wrapf(ErrDomainAddAndRemove, "domain %q", domain)
	}
	s.toAdd[domain] = &actions.DomainMetadata{Domain: domain, Configuration: configuration}
	s.invalidate()
	return nil
}

func (s *domainMetadataState) remove(domain string) error {
	if _, ok := s.toAdd[domain]; ok {
		return errors.Wrapf(ErrDomainAddAndRemove, "domain %q", domain)
	}
	s.toRemove[domain] = true
	s.invalidate()
	return nil
}

func (s *domainMetadataState) invalidate() {
	s.computed = nil
	s.computedSet = false
}

// setComputed installs the resolver's rewritten list directly.
func (s *domainMetadataState) setComputed(domains []*actions.DomainMetadata) {
	s.computed = domains
	s.computedSet = true
}

// resolve produces the domain actions to commit: the buffered adds plus a
// tombstone for every removal, sourced from the snapshot's active record.
// For a replace, every active domain not re-added is tombstoned too.
func (s *domainMetadataState) resolve(snap *snapshot.Snapshot, isReplace bool) ([]*actions.DomainMetadata, error) {
	if s.computedSet {
		return s.computed, nil
	}

	if isReplace {
		for name := range snap.ActiveDomainMap() {
			if _, readded := s.toAdd[name]; !readded {
				// Re-added domains overwrite in place, everything else must go.
				s.toRemove[name] = true
			}
		}
	}

	result := make([]*actions.DomainMetadata, 0, len(s.toAdd)+len(s.toRemove))
	for _, d := range s.toAdd {
		result = append(result, d)
	}

	if len(s.toRemove) > 0 {
		active := snap.ActiveDomainMap()
		for name := range s.toRemove {
			current, ok := active[name]
			if !ok {
				// Without a record to tombstone, a concurrent writer adding
				// this domain could never be detected during resolution.
				return nil, errors.Wrapf(ErrDomainDoesNotExist, "domain %q at version %d", name, snap.Version())
			}
			result = append(result, current.AsRemoved())
		}
	}

	s.setComputed(result)
	return result, nil
}

// postCommitDomains folds the commit's domain actions over the previous
// active set, yielding the new active set for the checksum record.
func postCommitDomains(previous []*actions.DomainMetadata, committed []*actions.DomainMetadata) []*actions.DomainMetadata {
	byName := make(map[string]*actions.DomainMetadata, len(previous))
	for _, d := range previous {
		byName[d.Domain] = d
	}
	for _, d := range committed {
		if d.Removed {
			delete(byName, d.Domain)
		} else {
			byName[d.Domain] = d
		}
	}
	result := make([]*actions.DomainMetadata, 0, len(byName))
	for _, d := range byName {
		result = append(result, d)
	}
	return result
}

// validateDomainMetadatas rejects duplicate names in one commit and domain
// actions on tables without the feature.
func validateDomainMetadatas(domains []*actions.DomainMetadata, protocol *actions.Protocol) error {
	if len(domains) == 0 {
		return nil
	}
	if !actions.IsDomainMetadataSupported(protocol) {
		return ErrDomainMetadataUnsupported
	}
	seen := make(map[string]bool, len(domains))
	for _, d := range domains {
		if seen[d.Domain] {
			return errors.Wrapf(ErrDuplicateDomainMetadata, "domain %q", d.Domain)
		}
		seen[d.Domain] = true
	}
	return nil
}
