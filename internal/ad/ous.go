package ad

import (
	"context"
	"fmt"
	"strings"

	ldapclient "github.com/isometry/adquery/internal/ldap"
)

// CreateOURequest carries the attributes for a new organizational unit.
type CreateOURequest struct {
	Name        string // required, becomes ou
	Parent      string // parent DN; empty targets the directory base
	Description string
	ManagedBy   string // DN of the managing principal
}

// OUManager looks up and mutates organizational units.
type OUManager struct {
	dir *Directory
	log ldapclient.Logger
}

// ouAttributes is the default projection for OU lookups.
var ouAttributes = []string{
	"objectGUID", "objectCategory", "ou", "name", "description",
	"managedBy", "whenCreated", "whenChanged", "distinguishedName",
}

// Search starts a query pre-scoped to organizational units.
func (m *OUManager) Search() *Search {
	return m.dir.Search().
		Select(ouAttributes...).
		Where("objectClass", Equals, "organizationalUnit")
}

// Find resolves an identifier to an organizational unit. DNs read
// directly; GUIDs match the binary attribute; anything else matches
// the ou naming attribute.
func (m *OUManager) Find(ctx context.Context, identifier string) (*Entry, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("OU identifier cannot be empty")
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
	default:
		search.Where("ou", Equals, identifier)
	}

	obj, err := search.FindOrFail(ctx)
	if err != nil {
		return nil, err
	}
	return obj.Entry(), nil
}

// List returns the OUs under a container, whole subtree, sorted by name.
// An empty container lists the directory base.
func (m *OUManager) List(ctx context.Context, container string) ([]*Entry, error) {
	search := m.Search().SortBy("ou", Ascending)
	if container != "" {
		search.In(container)
	}

	objects, err := search.Get(ctx)
	if err != nil {
		return nil, err
	}

	ous := make([]*Entry, 0, len(objects))
	for _, obj := range objects {
		ous = append(ous, obj.Entry())
	}
	return ous, nil
}

// Children lists the immediate children of an OU: a single-level
// search, not a subtree walk. All object types are returned, mapped.
func (m *OUManager) Children(ctx context.Context, identifier string) ([]Object, error) {
	ou, err := m.Find(ctx, identifier)
	if err != nil {
		return nil, err
	}

	return m.dir.Search().
		In(ou.DN()).
		Listing().
		AddWildcard().
		Get(ctx)
}

// Create adds a new organizational unit and returns it as stored.
func (m *OUManager) Create(ctx context.Context, req *CreateOURequest) (*Entry, error) {
	if req == nil {
		return nil, fmt.Errorf("create OU request cannot be nil")
	}
	if req.Name == "" {
		return nil, fmt.Errorf("OU name is required")
	}

	parent := req.Parent
	if parent == "" {
		base, err := m.dir.BaseDN(ctx)
		if err != nil {
			return nil, err
		}
		parent = base
	}

	dn := fmt.Sprintf("OU=%s,%s", ldapclient.EscapeDNValue(req.Name), parent)

	attributes := map[string][]string{
		"objectClass": {"top", "organizationalUnit"},
		"ou":          {req.Name},
	}
	if req.Description != "" {
		attributes["description"] = []string{req.Description}
	}
	if req.ManagedBy != "" {
		attributes["managedBy"] = []string{req.ManagedBy}
	}

	m.log.Info("creating OU", map[string]any{"dn": dn})

	if err := m.dir.client.Add(ctx, &ldapclient.AddRequest{DN: dn, Attributes: attributes}); err != nil {
		return nil, err
	}
	return m.Find(ctx, dn)
}

// Delete removes an organizational unit. The directory refuses to
// delete a non-empty OU; callers move or delete children first.
// Deleting an OU that is already gone succeeds.
func (m *OUManager) Delete(ctx context.Context, identifier string) error {
	ou, err := m.Find(ctx, identifier)
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			return nil
		}
		return err
	}

	m.log.Info("deleting OU", map[string]any{"dn": ou.DN()})
	return m.dir.client.Delete(ctx, ou.DN())
}

// Move reparents an organizational unit under a new parent, keeping
// its RDN.
func (m *OUManager) Move(ctx context.Context, identifier, newParentDN string) error {
	if newParentDN == "" {
		return fmt.Errorf("new parent DN cannot be empty")
	}

	ou, err := m.Find(ctx, identifier)
	if err != nil {
		return err
	}

	attrType, value, err := ldapclient.FirstRDN(ou.DN())
	if err != nil {
		return fmt.Errorf("cannot derive RDN from %s: %w", ou.DN(), err)
	}

	return m.dir.client.ModifyDN(ctx, &ldapclient.ModifyDNRequest{
		DN:           ou.DN(),
		NewRDN:       fmt.Sprintf("%s=%s", strings.ToUpper(attrType), ldapclient.EscapeDNValue(value)),
		DeleteOldRDN: true,
		NewSuperior:  newParentDN,
	})
}
