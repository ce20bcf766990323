package ad

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/adquery/internal/ldap"
)

// GroupScope represents the scope of an Active Directory group.
type GroupScope string

const (
	GroupScopeGlobal      GroupScope = "Global"      // members from the same domain
	GroupScopeUniversal   GroupScope = "Universal"   // members from any domain in the forest
	GroupScopeDomainLocal GroupScope = "DomainLocal" // members from any domain
)

// String returns the string representation of the group scope.
func (gs GroupScope) String() string {
	return string(gs)
}

// GroupCategory represents the category of an Active Directory group.
type GroupCategory string

const (
	GroupCategorySecurity     GroupCategory = "Security"     // access control
	GroupCategoryDistribution GroupCategory = "Distribution" // mail distribution
)

// String returns the string representation of the group category.
func (gc GroupCategory) String() string {
	return string(gc)
}

// Active Directory groupType bit flags.
const (
	// Scope flags (mutually exclusive).
	GroupTypeFlagGlobal      int32 = 0x00000002 // ADS_GROUP_TYPE_GLOBAL_GROUP
	GroupTypeFlagDomainLocal int32 = 0x00000004 // ADS_GROUP_TYPE_DOMAIN_LOCAL_GROUP
	GroupTypeFlagUniversal   int32 = 0x00000008 // ADS_GROUP_TYPE_UNIVERSAL_GROUP

	// Category flag.
	GroupTypeFlagSecurity int32 = -2147483648 // ADS_GROUP_TYPE_SECURITY_ENABLED (0x80000000 as signed int32)
)

// Matching-rule OIDs used in raw filter clauses.
const (
	// matchingRuleInChain walks nested membership server-side.
	matchingRuleInChain = "1.2.840.113556.1.4.1941"
	// matchingRuleBitAnd tests flag words such as groupType.
	matchingRuleBitAnd = "1.2.840.113556.1.4.803"
)

// memberModifyLimit caps the member values carried in one modify
// request; Active Directory rejects larger batches.
const memberModifyLimit = 1000

// CalculateGroupType combines scope and category into an Active
// Directory groupType value. Unrecognized scopes default to Global.
func CalculateGroupType(scope GroupScope, category GroupCategory) int32 {
	var groupType int32

	switch scope {
	case GroupScopeDomainLocal:
		groupType |= GroupTypeFlagDomainLocal
	case GroupScopeUniversal:
		groupType |= GroupTypeFlagUniversal
	default:
		groupType |= GroupTypeFlagGlobal
	}

	if category == GroupCategorySecurity {
		groupType |= GroupTypeFlagSecurity
	}

	return groupType
}

// ParseGroupType extracts scope and category from a groupType value.
func ParseGroupType(groupType int32) (GroupScope, GroupCategory) {
	var scope GroupScope
	switch {
	case groupType&GroupTypeFlagGlobal != 0:
		scope = GroupScopeGlobal
	case groupType&GroupTypeFlagDomainLocal != 0:
		scope = GroupScopeDomainLocal
	case groupType&GroupTypeFlagUniversal != 0:
		scope = GroupScopeUniversal
	default:
		scope = GroupScopeGlobal
	}

	category := GroupCategoryDistribution
	if groupType&GroupTypeFlagSecurity != 0 {
		category = GroupCategorySecurity
	}

	return scope, category
}

// ParseGroupScope parses a scope name, case-insensitively.
func ParseGroupScope(s string) (GroupScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "global":
		return GroupScopeGlobal, nil
	case "universal":
		return GroupScopeUniversal, nil
	case "domainlocal", "domain-local", "local":
		return GroupScopeDomainLocal, nil
	default:
		return "", fmt.Errorf("invalid group scope: %s (valid: Global, DomainLocal, Universal)", s)
	}
}

// ParseGroupCategory parses a category name, case-insensitively.
func ParseGroupCategory(s string) (GroupCategory, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "security":
		return GroupCategorySecurity, nil
	case "distribution":
		return GroupCategoryDistribution, nil
	default:
		return "", fmt.Errorf("invalid group category: %s (valid: Security, Distribution)", s)
	}
}

// NestedMemberOfFilter builds a matching-rule clause that matches
// entries which are members, directly or transitively, of the group at
// groupDN. The expansion happens server-side.
func NestedMemberOfFilter(groupDN string) string {
	return fmt.Sprintf("(memberOf:%s:=%s)", matchingRuleInChain, ldap.EscapeFilter(groupDN))
}

// GroupTypeBitFilter builds a matching-rule clause testing groupType
// flag bits, e.g. the security-enabled bit.
func GroupTypeBitFilter(flags int32) string {
	return fmt.Sprintf("(groupType:%s:=%d)", matchingRuleBitAnd, flags)
}

// CreateGroupRequest carries the attributes for a new group.
type CreateGroupRequest struct {
	Name           string        // required, becomes cn
	SAMAccountName string        // required
	Container      string        // parent DN; empty targets the directory base
	Description    string        // optional
	Scope          GroupScope    // required
	Category       GroupCategory // required
	Mail           string        // optional, distribution groups
}

// GroupManager looks up and mutates groups. Lookups accept any
// identifier form: DN, GUID, SID, or account name.
type GroupManager struct {
	dir *Directory
	log ldapclient.Logger
}

// groupAttributes is the default projection for group lookups.
var groupAttributes = []string{
	"objectGUID", "objectSid", "objectCategory", "cn", "name",
	"sAMAccountName", "description", "groupType", "mail",
	"member", "memberOf", "whenCreated", "whenChanged",
	"distinguishedName",
}

// Search starts a query pre-scoped to group objects.
func (m *GroupManager) Search() *Search {
	return m.dir.Search().
		Select(groupAttributes...).
		Where("objectCategory", Equals, "group")
}

// Find resolves an identifier to a group. DNs are read directly; GUIDs
// and SIDs are searched by their binary or string form; anything else
// goes through ambiguous name resolution, which covers sAMAccountName,
// cn and display name in one clause.
func (m *GroupManager) Find(ctx context.Context, identifier string) (*Group, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("group identifier cannot be empty")
	}

	search := m.Search()
	switch DetectIdentifier(identifier) {
	case IdentifierDN:
		search.In(identifier).Read()
	case IdentifierGUID:
		filter, err := GUIDFilter(identifier)
		if err != nil {
			return nil, err
		}
		search.RawFilter(filter)
	case IdentifierSID:
		search.Where("objectSid", Equals, identifier)
	default:
		search.Where("anr", Equals, stripDomainPrefix(identifier))
	}

	obj, err := search.FindOrFail(ctx)
	if err != nil {
		return nil, err
	}
	group, ok := obj.(*Group)
	if !ok {
		return nil, fmt.Errorf("%s is not a group", obj.DN())
	}
	return group, nil
}

// List returns the groups under a container, the whole subtree. An
// empty container lists the directory base.
func (m *GroupManager) List(ctx context.Context, container string) ([]*Group, error) {
	search := m.Search().SortBy("cn", Ascending)
	if container != "" {
		search.In(container)
	}

	objects, err := search.Get(ctx)
	if err != nil {
		return nil, err
	}

	groups := make([]*Group, 0, len(objects))
	for _, obj := range objects {
		if group, ok := obj.(*Group); ok {
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// Create adds a new group and returns it as stored by the directory.
func (m *GroupManager) Create(ctx context.Context, req *CreateGroupRequest) (*Group, error) {
	if err := validateCreateGroup(req); err != nil {
		return nil, err
	}

	container := req.Container
	if container == "" {
		base, err := m.dir.BaseDN(ctx)
		if err != nil {
			return nil, err
		}
		container = base
	}

	dn := fmt.Sprintf("CN=%s,%s", ldapclient.EscapeDNValue(req.Name), container)
	groupType := CalculateGroupType(req.Scope, req.Category)

	attributes := map[string][]string{
		"objectClass":    {"top", "group"},
		"cn":             {req.Name},
		"sAMAccountName": {req.SAMAccountName},
		"groupType":      {strconv.FormatInt(int64(groupType), 10)},
	}
	if req.Description != "" {
		attributes["description"] = []string{req.Description}
	}
	if req.Mail != "" {
		attributes["mail"] = []string{req.Mail}
	}

	m.log.Info("creating group", map[string]any{
		"dn":    dn,
		"scope": req.Scope.String(),
	})

	if err := m.dir.client.Add(ctx, &ldapclient.AddRequest{DN: dn, Attributes: attributes}); err != nil {
		return nil, err
	}
	return m.Find(ctx, dn)
}

func validateCreateGroup(req *CreateGroupRequest) error {
	if req == nil {
		return fmt.Errorf("create group request cannot be nil")
	}
	if req.Name == "" {
		return fmt.Errorf("group name is required")
	}
	if req.SAMAccountName == "" {
		return fmt.Errorf("SAM account name is required")
	}

	switch req.Scope {
	case GroupScopeGlobal, GroupScopeDomainLocal, GroupScopeUniversal:
	default:
		return fmt.Errorf("invalid group scope: %s (valid: Global, DomainLocal, Universal)", req.Scope)
	}

	switch req.Category {
	case GroupCategorySecurity, GroupCategoryDistribution:
	default:
		return fmt.Errorf("invalid group category: %s (valid: Security, Distribution)", req.Category)
	}

	if strings.ContainsAny(req.SAMAccountName, " \t\n\r@\"#$%&'()*+,/:;<=>?[\\]^`{|}~") {
		return fmt.Errorf("SAM account name contains invalid characters: %s", req.SAMAccountName)
	}

	if req.Category == GroupCategoryDistribution && req.Mail != "" {
		if !strings.Contains(req.Mail, "@") || !strings.Contains(req.Mail, ".") {
			return fmt.Errorf("invalid email address format: %s", req.Mail)
		}
	}

	return nil
}

// Delete removes a group. Deleting a group that is already gone
// succeeds.
func (m *GroupManager) Delete(ctx context.Context, identifier string) error {
	group, err := m.Find(ctx, identifier)
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			return nil
		}
		return err
	}

	m.log.Info("deleting group", map[string]any{"dn": group.DN()})
	return m.dir.client.Delete(ctx, group.DN())
}

// Rename changes the group's common name in place.
func (m *GroupManager) Rename(ctx context.Context, identifier, newName string) error {
	if newName == "" {
		return fmt.Errorf("new group name cannot be empty")
	}

	group, err := m.Find(ctx, identifier)
	if err != nil {
		return err
	}

	return m.dir.client.ModifyDN(ctx, &ldapclient.ModifyDNRequest{
		DN:           group.DN(),
		NewRDN:       "CN=" + ldapclient.EscapeDNValue(newName),
		DeleteOldRDN: true,
	})
}

// Move reparents the group under a new container, keeping its RDN.
func (m *GroupManager) Move(ctx context.Context, identifier, newParentDN string) error {
	if newParentDN == "" {
		return fmt.Errorf("new parent DN cannot be empty")
	}

	group, err := m.Find(ctx, identifier)
	if err != nil {
		return err
	}

	attrType, value, err := ldapclient.FirstRDN(group.DN())
	if err != nil {
		return fmt.Errorf("cannot derive RDN from %s: %w", group.DN(), err)
	}

	return m.dir.client.ModifyDN(ctx, &ldapclient.ModifyDNRequest{
		DN:           group.DN(),
		NewRDN:       fmt.Sprintf("%s=%s", strings.ToUpper(attrType), ldapclient.EscapeDNValue(value)),
		DeleteOldRDN: true,
		NewSuperior:  newParentDN,
	})
}

// Members returns the DNs of the group's direct members.
func (m *GroupManager) Members(ctx context.Context, identifier string) ([]string, error) {
	group, err := m.Find(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return group.Members(), nil
}

// NestedMembers walks member edges downward from the group and returns
// every member DN reachable, each once, in breadth-first order. The
// visited set keys on canonical DNs, so membership cycles terminate.
func (m *GroupManager) NestedMembers(ctx context.Context, identifier string) ([]string, error) {
	group, err := m.Find(ctx, identifier)
	if err != nil {
		return nil, err
	}

	visited := map[string]struct{}{
		ldapclient.CanonicalDN(group.DN()): {},
	}
	queue := group.Members()
	var members []string

	for len(queue) > 0 {
		dn := queue[0]
		queue = queue[1:]

		key := ldapclient.CanonicalDN(dn)
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}
		members = append(members, dn)

		obj, err := m.dir.Search().
			Select("member", "objectCategory").
			In(dn).Read().AddWildcard().
			First(ctx)
		if err != nil {
			if ldapclient.IsNotFoundError(err) {
				// Dangling member reference; keep the DN, skip expansion.
				continue
			}
			return nil, err
		}
		if obj == nil {
			continue
		}
		if nested, ok := obj.(*Group); ok {
			queue = append(queue, nested.Members()...)
		}
	}

	return members, nil
}

// AddMembers adds members to the group. Identifiers in any supported
// form are resolved to DNs first; DNs already present are skipped so
// the server only sees real changes; additions go out in chunks the
// directory will accept.
func (m *GroupManager) AddMembers(ctx context.Context, identifier string, members []string) error {
	if len(members) == 0 {
		return nil
	}

	group, err := m.Find(ctx, identifier)
	if err != nil {
		return err
	}

	resolved, err := m.resolveMemberDNs(ctx, members)
	if err != nil {
		return err
	}

	current := make(map[string]struct{}, len(group.Members()))
	for _, dn := range group.Members() {
		current[ldapclient.CanonicalDN(dn)] = struct{}{}
	}

	var toAdd []string
	for _, dn := range resolved {
		if _, present := current[ldapclient.CanonicalDN(dn)]; !present {
			toAdd = append(toAdd, dn)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}

	m.log.Info("adding group members", map[string]any{
		"dn":    group.DN(),
		"count": len(toAdd),
	})

	for start := 0; start < len(toAdd); start += memberModifyLimit {
		end := min(start+memberModifyLimit, len(toAdd))
		req := &ldapclient.ModifyRequest{
			DN:            group.DN(),
			AddAttributes: map[string][]string{"member": toAdd[start:end]},
		}
		if err := m.dir.client.Modify(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// RemoveMembers removes members from the group, resolving identifiers
// the same way AddMembers does. DNs not currently present are skipped.
func (m *GroupManager) RemoveMembers(ctx context.Context, identifier string, members []string) error {
	if len(members) == 0 {
		return nil
	}

	group, err := m.Find(ctx, identifier)
	if err != nil {
		return err
	}

	resolved, err := m.resolveMemberDNs(ctx, members)
	if err != nil {
		return err
	}

	current := make(map[string]struct{}, len(group.Members()))
	for _, dn := range group.Members() {
		current[ldapclient.CanonicalDN(dn)] = struct{}{}
	}

	var toRemove []string
	for _, dn := range resolved {
		if _, present := current[ldapclient.CanonicalDN(dn)]; present {
			toRemove = append(toRemove, dn)
		}
	}
	if len(toRemove) == 0 {
		return nil
	}

	m.log.Info("removing group members", map[string]any{
		"dn":    group.DN(),
		"count": len(toRemove),
	})

	for start := 0; start < len(toRemove); start += memberModifyLimit {
		end := min(start+memberModifyLimit, len(toRemove))
		req := &ldapclient.ModifyRequest{
			DN:               group.DN(),
			DeleteAttributes: map[string][]string{"member": toRemove[start:end]},
		}
		if err := m.dir.client.Modify(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// resolveMemberDNs resolves each identifier to a DN and deduplicates
// the result, preserving first-seen order.
func (m *GroupManager) resolveMemberDNs(ctx context.Context, identifiers []string) ([]string, error) {
	seen := make(map[string]struct{}, len(identifiers))
	resolved := make([]string, 0, len(identifiers))

	for _, identifier := range identifiers {
		dn, err := m.dir.ResolveDN(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve member %q: %w", identifier, err)
		}
		key := ldapclient.CanonicalDN(dn)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		resolved = append(resolved, dn)
	}
	return resolved, nil
}

// InGroup reports whether member belongs to the group, nested
// membership included.
func (m *GroupManager) InGroup(ctx context.Context, memberIdentifier, groupIdentifier string) (bool, error) {
	group, err := m.Find(ctx, groupIdentifier)
	if err != nil {
		return false, err
	}

	memberDN, err := m.dir.ResolveDN(ctx, memberIdentifier)
	if err != nil {
		return false, err
	}

	obj, err := m.dir.Search().
		Select("memberOf").
		In(memberDN).Read().AddWildcard().
		First(ctx)
	if err != nil {
		return false, err
	}
	if obj == nil {
		return false, nil
	}

	groups, err := expandMembership(ctx, m.dir, obj.Entry().Attributes("memberOf"))
	if err != nil {
		return false, err
	}

	for _, dn := range groups {
		if ldapclient.EqualDN(dn, group.DN()) {
			return true, nil
		}
	}
	return false, nil
}

// expandMembership walks memberOf edges upward from the seed DNs and
// returns every group DN reachable, each once, in breadth-first order.
// The visited set keys on canonical DNs, so membership cycles
// terminate instead of recursing forever.
func expandMembership(ctx context.Context, d *Directory, seeds []string) ([]string, error) {
	var groups []string
	visited := make(map[string]struct{}, len(seeds))
	queue := append([]string(nil), seeds...)

	for len(queue) > 0 {
		dn := queue[0]
		queue = queue[1:]

		key := ldapclient.CanonicalDN(dn)
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}
		groups = append(groups, dn)

		obj, err := d.Search().
			Select("memberOf").
			In(dn).Read().AddWildcard().
			First(ctx)
		if err != nil {
			if ldapclient.IsNotFoundError(err) {
				continue
			}
			return nil, err
		}
		if obj == nil {
			continue
		}
		queue = append(queue, obj.Entry().Attributes("memberOf")...)
	}

	return groups, nil
}
