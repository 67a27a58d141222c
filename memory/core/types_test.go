package core

import "testing"

func TestScopeOrdering(t *testing.T) {
	if !(ScopePrivate < ScopeShared && ScopeShared < ScopeGlobal) {
		t.Fatal("scope order must be private < shared < global")
	}
}

func TestEdgeScopeIsStricter(t *testing.T) {
	cases := []struct {
		a, b, want Scope
	}{
		{ScopePrivate, ScopeGlobal, ScopePrivate},
		{ScopeShared, ScopeGlobal, ScopeShared},
		{ScopeGlobal, ScopeGlobal, ScopeGlobal},
	}
	for _, c := range cases {
		if got := EdgeScope(c.a, c.b); got != c.want {
			t.Errorf("EdgeScope(%v,%v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestParseScopeRoundTrip(t *testing.T) {
	for _, s := range []Scope{ScopePrivate, ScopeShared, ScopeGlobal} {
		parsed, ok := ParseScope(s.String())
		if !ok || parsed != s {
			t.Errorf("ParseScope(%q) = %v, %v", s.String(), parsed, ok)
		}
	}
	if _, ok := ParseScope("bogus"); ok {
		t.Error("expected ParseScope to reject unknown scope name")
	}
}

func TestCanAccessPrivateRequiresOwner(t *testing.T) {
	m := Memory{Scope: ScopePrivate, OwnerID: "agent-1"}
	owner := AccessContext{AgentID: "agent-1", Scopes: []Scope{ScopePrivate}}
	other := AccessContext{AgentID: "agent-2", Scopes: []Scope{ScopePrivate}}
	noScope := AccessContext{AgentID: "agent-1", Scopes: []Scope{ScopeShared}}

	if !owner.CanAccess(m) {
		t.Error("owner should access its own private memory")
	}
	if other.CanAccess(m) {
		t.Error("non-owner must not access private memory")
	}
	if noScope.CanAccess(m) {
		t.Error("context without private scope must not access private memory")
	}
}

func TestCanAccessSharedAndGlobalIgnoreOwner(t *testing.T) {
	shared := Memory{Scope: ScopeShared, OwnerID: "agent-1"}
	global := Memory{Scope: ScopeGlobal}
	reader := AccessContext{AgentID: "agent-2", Scopes: []Scope{ScopeShared, ScopeGlobal}}

	if !reader.CanAccess(shared) {
		t.Error("any context holding shared scope should access a shared memory")
	}
	if !reader.CanAccess(global) {
		t.Error("any context holding global scope should access a global memory")
	}
}

func TestCanAccess_SystemRoleBypassesOwnership(t *testing.T) {
	m := Memory{Scope: ScopePrivate, OwnerID: "agent-1"}
	system := AccessContext{AgentID: "indexer", Role: RoleSystem}

	if !system.CanAccess(m) {
		t.Error("system role should bypass ownership/scope checks entirely")
	}
}

func TestCanAccess_TenantMismatchDeniesSharedScope(t *testing.T) {
	m := Memory{Scope: ScopeShared, OwnerID: "agent-1", TenantID: "tenant-a"}

	sameTenant := AccessContext{AgentID: "agent-2", TenantID: "tenant-a", Scopes: []Scope{ScopeShared}}
	otherTenant := AccessContext{AgentID: "agent-2", TenantID: "tenant-b", Scopes: []Scope{ScopeShared}}
	noTenant := AccessContext{AgentID: "agent-2", Scopes: []Scope{ScopeShared}}
	mNoTenant := Memory{Scope: ScopeShared, OwnerID: "agent-1"}

	if !sameTenant.CanAccess(m) {
		t.Error("matching tenants should access a shared memory")
	}
	if otherTenant.CanAccess(m) {
		t.Error("mismatched tenants must not access a shared memory")
	}
	if !noTenant.CanAccess(m) {
		t.Error("an absent tenant on the context side is a wildcard, not a denial")
	}
	if !sameTenant.CanAccess(mNoTenant) {
		t.Error("an absent tenant on the memory side is a wildcard, not a denial")
	}
}

func TestCanWrite_RoleExpandsCapability(t *testing.T) {
	agent := AccessContext{AgentID: "agent-1", Role: RoleAgent}
	supervisor := AccessContext{AgentID: "sup-1", Role: RoleSupervisor}
	system := AccessContext{AgentID: "sys", Role: RoleSystem}

	if !agent.CanWrite(ScopePrivate) {
		t.Error("any role can write private")
	}
	if agent.CanWrite(ScopeShared) {
		t.Error("plain agent role without shared in Scopes must not write shared")
	}
	if !supervisor.CanWrite(ScopeShared) {
		t.Error("supervisor role should be able to write shared")
	}
	if supervisor.CanWrite(ScopeGlobal) {
		t.Error("supervisor role alone must not write global")
	}
	if !system.CanWrite(ScopeShared) || !system.CanWrite(ScopeGlobal) {
		t.Error("system role should be able to write any scope")
	}
}

func TestMemoryValidateInvariants(t *testing.T) {
	cases := []struct {
		name string
		m    Memory
		ok   bool
	}{
		{"valid private", Memory{Scope: ScopePrivate, OwnerID: "a1", Confidence: 0.5, Importance: 0.5}, true},
		{"private without owner", Memory{Scope: ScopePrivate, Confidence: 0.5}, false},
		{"global with owner", Memory{Scope: ScopeGlobal, OwnerID: "a1"}, false},
		{"confidence out of range", Memory{Scope: ScopeGlobal, Confidence: 1.5}, false},
		{"importance negative", Memory{Scope: ScopeGlobal, Importance: -0.1}, false},
	}
	for _, c := range cases {
		err := c.m.ValidateInvariants()
		if (err == nil) != c.ok {
			t.Errorf("%s: ValidateInvariants() error = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestEdgeValidateInvariants(t *testing.T) {
	if err := (Edge{FromID: "a", ToID: "a", Weight: 0.5}).ValidateInvariants(); err == nil {
		t.Error("expected self-edge to be rejected")
	}
	if err := (Edge{FromID: "a", ToID: "b", Weight: 1.5}).ValidateInvariants(); err == nil {
		t.Error("expected out-of-range weight to be rejected")
	}
	if err := (Edge{FromID: "a", ToID: "b", Weight: 0.8}).ValidateInvariants(); err != nil {
		t.Errorf("expected valid edge to pass, got %v", err)
	}
}

func TestRecallOptionsDefaults(t *testing.T) {
	opts := RecallOptions{}.WithDefaults()
	if opts.Limit != 5 || opts.Threshold != 0.3 || opts.GraphDepth != 1 {
		t.Errorf("unexpected defaults: %+v", opts)
	}
}
