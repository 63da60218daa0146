// Package consent checks that a mutation is covered by revocable host consent
// and, on elevated-risk paths, by a scoped capability token.
package consent

import (
	"sync"
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

// #region verify
// Verify checks the consent layer for (host, d). scope supplies both the
// allow-list answer and the record; either missing, or a non-revocable
// record, is NoValidConsent.
func Verify(scope Scope, host string, d domain.ID) error {
	if scope == nil {
		return reason.Deny(reason.NoValidConsent, "no consent provider")
	}
	if !scope.IsDomainAllowed(host, d) {
		return reason.Deny(reason.NoValidConsent, "host %s has no active consent for %s", host, d)
	}
	rec, ok := scope.Lookup(host, d)
	if !ok {
		return reason.Deny(reason.NoValidConsent, "no consent record for %s/%s", host, d)
	}
	return VerifyRecord(rec, host, d)
}

// VerifyRecord checks a record already in hand.
func VerifyRecord(rec Record, host string, d domain.ID) error {
	if rec.Host != host || rec.Domain != d {
		return reason.Deny(reason.NoValidConsent, "record covers %s/%s, not %s/%s", rec.Host, rec.Domain, host, d)
	}
	if !rec.Revocable {
		return reason.Deny(reason.NoValidConsent, "consent for %s/%s is not revocable", host, d)
	}
	return nil
}

// #endregion verify

// #region verify-token
// ElevatedKindPermitted is the allow-list of proposal kinds reachable through
// token escalation. Kinds are passed as plain strings to keep this package
// below the admission layer.
var ElevatedKindPermitted = map[string]bool{
	"param_nudge":     true,
	"threshold_shift": true,
}

// VerifyToken is the full capability gate for elevated-risk proposals. The
// checks run in a fixed order and the first failure is returned. Validity
// bounds are inclusive.
func VerifyToken(tok *Token, subject, kind, requiredScope string, now time.Time) error {
	if tok == nil {
		return reason.Deny(reason.TokenMissing, "elevated band requires a capability token")
	}
	if tok.Subject != subject {
		return reason.Deny(reason.SubjectMismatch, "token subject %q, proposal subject %q", tok.Subject, subject)
	}
	if tok.Band != BandElevated {
		return reason.Deny(reason.WrongBand, "token band %q", tok.Band)
	}
	if requiredScope == "" {
		requiredScope = ScopeElevatedResearch
	}
	if !tok.HasScope(requiredScope) {
		return reason.Deny(reason.ScopeMissing, "token missing scope %q", requiredScope)
	}
	if now.Before(tok.ValidFrom) || now.After(tok.ValidUntil) {
		return reason.Deny(reason.TokenExpired, "now %s outside [%s, %s]",
			now.UTC().Format(time.RFC3339), tok.ValidFrom.UTC().Format(time.RFC3339), tok.ValidUntil.UTC().Format(time.RFC3339))
	}
	if !ElevatedKindPermitted[kind] {
		return reason.Deny(reason.KindNotPermitted, "kind %s not permitted at elevated risk", kind)
	}
	return nil
}

// #endregion verify-token

// #region verify-environment
// VerifyEnvironment consults the environment oracle for automatic paths.
// Manual proposals skip it.
func VerifyEnvironment(env Environment, auto bool) error {
	if !auto {
		return nil
	}
	if env == nil || !env.IsEnvironmentSafeForAutomation() {
		return reason.Deny(reason.EnvironmentUnsafe, "environment unsafe for automation; manual path required")
	}
	if env.Mode() == ModeManualOnly {
		return reason.Deny(reason.EnvironmentUnsafe, "host metabolic mode is manual_only")
	}
	return nil
}

// #endregion verify-environment

// #region static-scope
// StaticScope is an in-memory Scope. It is safe for concurrent use; Revoke
// and Grant take effect on the next check.
type StaticScope struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewStaticScope seeds the scope with records.
func NewStaticScope(records ...Record) *StaticScope {
	s := &StaticScope{records: make(map[string]Record, len(records))}
	for _, r := range records {
		s.records[key(r.Host, r.Domain)] = r
	}
	return s
}

func key(host string, d domain.ID) string { return host + "\x00" + string(d) }

// Grant adds or replaces a record.
func (s *StaticScope) Grant(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key(r.Host, r.Domain)] = r
}

// Revoke removes consent for (host, d).
func (s *StaticScope) Revoke(host string, d domain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key(host, d))
}

func (s *StaticScope) IsDomainAllowed(host string, d domain.ID) bool {
	_, ok := s.Lookup(host, d)
	return ok
}

func (s *StaticScope) Lookup(host string, d domain.ID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key(host, d)]
	return r, ok
}

// #endregion static-scope

// #region static-environment
// StaticEnvironment is a fixed Environment answer.
type StaticEnvironment struct {
	Safe          bool
	MetabolicMode MetabolicMode
}

func (e StaticEnvironment) IsEnvironmentSafeForAutomation() bool { return e.Safe }

func (e StaticEnvironment) Mode() MetabolicMode {
	if e.MetabolicMode == "" {
		return ModeUnknown
	}
	return e.MetabolicMode
}

// #endregion static-environment
