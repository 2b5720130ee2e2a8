package governor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"entityid/internal/docstore"
	"entityid/pkg/euid"
	"entityid/pkg/platform/audit"
	"entityid/pkg/platform/sentinel"
	"entityid/pkg/requestcontext"
)

// PrefixRequest registers a new custom entity type.
type PrefixRequest struct {
	TypeName    string
	Description string
	Requestor   string
	AutoRetire  *AutoRetire
}

// GenerateNewPrefix derives an unused code for a new entity type, registers it
// and extends the grammar. Retired codes are never handed out again.
func (g *Governor) GenerateNewPrefix(ctx context.Context, req PrefixRequest) (PrefixDefinition, error) {
	name := typeName(req.TypeName)
	if name == "" {
		return PrefixDefinition{}, fmt.Errorf("prefix: type name %q has no letters: %w", req.TypeName, sentinel.ErrInvalidInput)
	}

	g.prefixMu.Lock()
	defer g.prefixMu.Unlock()

	grammar := g.Grammar()
	if code, ok := grammar.CodeOf(euid.EntityType(name)); ok {
		return PrefixDefinition{}, fmt.Errorf("prefix: type %s already uses code %s: %w", name, code, sentinel.ErrConflict)
	}

	code := ""
	for _, candidate := range prefixCandidates(name) {
		if euid.CheckCustomCode(candidate) != nil || grammar.HasCode(candidate) {
			continue
		}
		code = candidate
		break
	}
	if code == "" {
		return PrefixDefinition{}, fmt.Errorf("prefix: no free code for %s: %w", name, sentinel.ErrExhausted)
	}
	next, err := grammar.With(code, euid.EntityType(name))
	if err != nil {
		return PrefixDefinition{}, fmt.Errorf("prefix %s: %w", code, err)
	}

	def := PrefixDefinition{
		Prefix:         code,
		EntityTypeName: name,
		Description:    req.Description,
		IsActive:       true,
		AutoRetire:     req.AutoRetire,
		CreatedAt:      requestcontext.Now(ctx),
		CreatedBy:      req.Requestor,
	}
	payload, err := docstore.Encode(def)
	if err != nil {
		return PrefixDefinition{}, fmt.Errorf("encode prefix %s: %w", code, err)
	}
	if _, err := g.store.Create(ctx, docstore.Record{
		ID:        prefixID(code),
		Kind:      docstore.KindPrefix,
		Payload:   payload,
		CreatedBy: req.Requestor,
	}); err != nil {
		return PrefixDefinition{}, fmt.Errorf("persist prefix %s: %w", code, err)
	}

	g.mu.Lock()
	g.prefixes[code] = def
	g.mu.Unlock()
	g.grammar.Store(next)

	g.audit(ctx, audit.EventPrefixCreated, code, name, req.Requestor, map[string]any{
		"description": req.Description,
	})
	return def, nil
}

// typeName upper-cases s and turns separators into underscores.
func typeName(s string) string {
	var b strings.Builder
	letters := 0
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
			letters++
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if letters == 0 {
		return ""
	}
	return strings.Trim(b.String(), "_")
}

// prefixCandidates lists codes to try in order: the first three usable
// letters, the same with the last letter varied, then four letters.
func prefixCandidates(name string) []string {
	var letters []byte
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 'A' || c > 'Z' {
			continue
		}
		if len(letters) == 0 && euid.CheckCustomCode(string(c)+"AA") != nil {
			continue
		}
		letters = append(letters, c)
	}
	if len(letters) == 0 {
		return nil
	}
	for len(letters) < 3 {
		letters = append(letters, 'X')
	}

	base := string(letters[:3])
	out := []string{base}
	for c := byte('A'); c <= 'Z'; c++ {
		out = append(out, base[:2]+string(c))
	}
	if len(letters) > 3 {
		out = append(out, string(letters[:4]))
	}
	for c := byte('A'); c <= 'Z'; c++ {
		out = append(out, base+string(c))
	}
	return out
}

// RetirePrefix stops new identifiers being issued under a custom code. The
// code stays in the grammar so existing identifiers remain valid.
func (g *Governor) RetirePrefix(ctx context.Context, code, requestor, reason string) (PrefixDefinition, error) {
	g.prefixMu.Lock()
	defer g.prefixMu.Unlock()
	return g.retirePrefix(ctx, code, requestor, reason, audit.EventPrefixRetired)
}

func (g *Governor) retirePrefix(ctx context.Context, code, requestor, reason string, event audit.AuditEvent) (PrefixDefinition, error) {
	code = strings.ToUpper(code)
	if euid.IsStaticCode(code) {
		return PrefixDefinition{}, fmt.Errorf("retire %s: system prefixes cannot be retired: %w", code, sentinel.ErrInvalidState)
	}
	g.mu.RLock()
	def, ok := g.prefixes[code]
	g.mu.RUnlock()
	if !ok {
		return PrefixDefinition{}, fmt.Errorf("prefix %s: %w", code, sentinel.ErrNotFound)
	}
	if !def.IsActive {
		return def, nil
	}

	now := requestcontext.Now(ctx)
	if _, err := g.store.Update(ctx, prefixID(code), map[string]any{
		"isActive":      false,
		"retiredAt":     now,
		"retiredReason": reason,
	}, requestor); err != nil {
		return PrefixDefinition{}, fmt.Errorf("retire prefix %s: %w", code, err)
	}
	def.IsActive = false
	def.RetiredAt = &now
	def.RetiredReason = reason

	g.mu.Lock()
	g.prefixes[code] = def
	g.mu.Unlock()

	g.audit(ctx, event, code, def.EntityTypeName, requestor, map[string]any{"reason": reason})
	return def, nil
}

// PrefixActive reports whether new identifiers may use code. Built-in codes
// are always active.
func (g *Governor) PrefixActive(code string) bool {
	if euid.IsStaticCode(code) {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	def, ok := g.prefixes[code]
	return ok && def.IsActive
}

// TouchPrefix records that an identifier was issued under a custom code.
func (g *Governor) TouchPrefix(ctx context.Context, code string) error {
	if euid.IsStaticCode(code) {
		return nil
	}
	g.prefixMu.Lock()
	defer g.prefixMu.Unlock()

	g.mu.RLock()
	def, ok := g.prefixes[code]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("prefix %s: %w", code, sentinel.ErrNotFound)
	}

	now := requestcontext.Now(ctx)
	count := def.EntityCount + 1
	if _, err := g.store.Update(ctx, prefixID(code), map[string]any{
		"lastUsedAt":  now,
		"entityCount": count,
	}, systemActor); err != nil {
		return fmt.Errorf("touch prefix %s: %w", code, err)
	}
	def.LastUsedAt = &now
	def.EntityCount = count

	g.mu.Lock()
	g.prefixes[code] = def
	g.mu.Unlock()
	return nil
}

// Prefixes lists built-in and custom codes, sorted by code.
func (g *Governor) Prefixes() []PrefixDefinition {
	out := make([]PrefixDefinition, 0, len(euid.StaticCodes()))
	for code, t := range euid.StaticCodes() {
		out = append(out, PrefixDefinition{
			Prefix:         code,
			EntityTypeName: string(t),
			Description:    t.HumanName(),
			IsActive:       true,
			IsSystemPrefix: true,
		})
	}
	g.mu.RLock()
	for _, def := range g.prefixes {
		out = append(out, def)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}

// autoRetireReason returns why def should retire at now, or "".
func autoRetireReason(def PrefixDefinition, now time.Time) string {
	c := def.AutoRetire
	if c == nil || !def.IsActive {
		return ""
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return "expired"
	}
	if c.MaxEntityCount > 0 && def.EntityCount >= c.MaxEntityCount {
		return "max entity count reached"
	}
	if c.InactivityDays > 0 {
		last := def.CreatedAt
		if def.LastUsedAt != nil {
			last = *def.LastUsedAt
		}
		if now.Sub(last) >= time.Duration(c.InactivityDays)*24*time.Hour {
			return "inactive"
		}
	}
	return ""
}

func (g *Governor) sweepPrefixes(ctx context.Context) error {
	g.prefixMu.Lock()
	defer g.prefixMu.Unlock()

	now := requestcontext.Now(ctx)
	g.mu.RLock()
	due := make(map[string]string)
	for code, def := range g.prefixes {
		if reason := autoRetireReason(def, now); reason != "" {
			due[code] = reason
		}
	}
	g.mu.RUnlock()

	var errs []error
	for code, reason := range due {
		if _, err := g.retirePrefix(ctx, code, systemActor, reason, audit.EventPrefixAutoRetired); err != nil {
			errs = append(errs, err)
			continue
		}
		g.logger.InfoContext(ctx, "prefix auto-retired", "prefix", code, "reason", reason)
	}
	return errors.Join(errs...)
}
