package authz

import (
	"testing"

	"openbudget.org/internal/budget"
)

func TestNewPolicyRejectsBadRules(t *testing.T) {
	cases := map[string][]Rule{
		"unknown class": {
			{Class: budget.Class("widget"), Actions: []Action{ActionRead}, Via: []Relation{RelAnyone}},
		},
		"no actions": {
			{Class: budget.ClassUser, Via: []Relation{RelAnyone}},
		},
		"no relations": {
			{Class: budget.ClassUser, Actions: []Action{ActionRead}},
		},
		"unknown field": {
			{Class: budget.ClassUser, Actions: []Action{ActionEdit}, Via: []Relation{RelSelf}, Fields: []string{"no_such_column"}},
		},
		"unknown condition field": {
			{Class: budget.ClassUser, Actions: []Action{ActionRead}, Via: []Relation{RelSelf}, When: []Cond{{Field: "bogus", Equals: 1}}},
		},
		"public without hidden flag": {
			{Class: budget.ClassGrant, Actions: []Action{ActionRead}, Via: []Relation{RelAnyone}, Public: true},
		},
	}
	for name, rules := range cases {
		if _, err := NewPolicy(rules); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDefaultPolicyConstructs(t *testing.T) {
	// MustPolicy panics on a malformed table; constructing is the test.
	if DefaultPolicy() == nil {
		t.Fatal("nil policy")
	}
}

func TestAdminGlobalRule(t *testing.T) {
	p := DefaultPolicy()
	admin := RoleSet{IsAdmin: true, UserID: 1}
	super := RoleSet{IsAdmin: true, IsSuper: true, UserID: 1}

	initiative := &budget.Initiative{ID: 30, Hidden: true}
	if !p.Allows(admin, ActionEdit, initiative, Refs{}) {
		t.Fatal("admin denied initiative edit")
	}

	self := &budget.User{ID: 1, Role: budget.RoleAdministrator}
	if p.Allows(admin, ActionDelete, self, Refs{}) {
		t.Fatal("admin may not delete itself")
	}

	otherAdmin := &budget.User{ID: 2, Role: budget.RoleAdministrator}
	if p.Allows(admin, ActionEdit, otherAdmin, Refs{}) {
		t.Fatal("plain admin may not edit another administrator")
	}
	if !p.Allows(super, ActionEdit, otherAdmin, Refs{}) {
		t.Fatal("superuser denied administrator edit")
	}
	if !p.Allows(admin, ActionRead, otherAdmin, Refs{}) {
		t.Fatal("admin denied administrator read")
	}
}

func TestWhenConditionGatesOwnerEdit(t *testing.T) {
	p := DefaultPolicy()
	owner := RoleSet{UserID: 3, ActivityIDs: []int64{40}}

	open := &budget.Activity{ID: 40, InitiativeID: 30}
	finished := &budget.Activity{ID: 40, InitiativeID: 30, Finished: true}
	refs := Refs{ActivityID: 40, InitiativeID: 30}

	if !p.Allows(owner, ActionEdit, open, refs) {
		t.Fatal("owner denied edit on open activity")
	}
	// The finished_description-only rule keeps edit allowed, but the grant
	// shrinks to that single column.
	if !p.Allows(owner, ActionEdit, finished, refs) {
		t.Fatal("owner denied closing-note edit on finished activity")
	}
	fields := p.FieldsFor(owner, ActionEdit, budget.ClassActivity, finished, refs)
	if fields.Has("description") {
		t.Fatal("description editable on finished activity")
	}
	if !fields.Has("finished_description") {
		t.Fatal("finished_description not editable on finished activity")
	}
}

func TestPublicRuleSkipsHiddenRows(t *testing.T) {
	p := DefaultPolicy()
	anon := BuildRoleSet(nil)

	if !p.Allows(anon, ActionRead, &budget.Initiative{ID: 30}, Refs{InitiativeID: 30}) {
		t.Fatal("anonymous denied visible initiative")
	}
	if p.Allows(anon, ActionRead, &budget.Initiative{ID: 31, Hidden: true}, Refs{InitiativeID: 31}) {
		t.Fatal("anonymous read hidden initiative")
	}
	// Upstream visibility cascades: a visible activity under a hidden
	// initiative is not public.
	act := &budget.Activity{ID: 40, InitiativeID: 31}
	if p.Allows(anon, ActionRead, act, Refs{ActivityID: 40, InitiativeID: 31, UpstreamHidden: true}) {
		t.Fatal("anonymous read activity under hidden initiative")
	}
}

func TestFieldsForDefaults(t *testing.T) {
	p := DefaultPolicy()
	self := RoleSet{UserID: 5}
	user := &budget.User{ID: 5}

	read := p.FieldsFor(self, ActionRead, budget.ClassUser, user, Refs{})
	if read.Has("password_hash") {
		t.Fatal("sensitive column in default read grant")
	}
	if !read.Has("email") {
		t.Fatal("email missing from self read grant")
	}

	admin := RoleSet{IsAdmin: true, UserID: 1}
	if !p.FieldsFor(admin, ActionRead, budget.ClassUser, user, Refs{}).Has("password_hash") {
		t.Fatal("admin read grant missing sensitive column")
	}

	// Edit grants are explicit; the nil-fields default applies to read only.
	edit := p.FieldsFor(self, ActionEdit, budget.ClassUser, user, Refs{})
	if edit.Has("role") || edit.Has("is_superuser") {
		t.Fatal("privileged column in self edit grant")
	}
	if !edit.Has("biography") {
		t.Fatal("biography missing from self edit grant")
	}
	// Users change their own password: the column is edit-grantable even
	// though it never appears in a default read grant.
	if !edit.Has("password_hash") {
		t.Fatal("password_hash missing from self edit grant")
	}
}

func TestClassLevelFields(t *testing.T) {
	p := DefaultPolicy()
	// Without an instance the grant is the union over rows the actor could
	// stand in relation to.
	owner := RoleSet{UserID: 2, InitiativeIDs: []int64{30}}
	fields := p.FieldsFor(owner, ActionEdit, budget.ClassInitiative, nil, Refs{})
	if !fields.Has("description") {
		t.Fatal("owner class-level edit grant missing description")
	}
	none := p.FieldsFor(RoleSet{UserID: 9}, ActionEdit, budget.ClassInitiative, nil, Refs{})
	if none.Has("description") {
		t.Fatal("unrelated user has class-level edit grant")
	}
}
