package ad

import (
	"context"
	"sync"

	ldapclient "github.com/isometry/adquery/internal/ldap"
)

// Directory is the entry point to a bound Active Directory domain: a
// connection collaborator plus the base DN that searches resolve
// against when no explicit scope is set.
type Directory struct {
	client ldapclient.Client
	log    ldapclient.Logger

	mu     sync.Mutex
	baseDN string
}

// Option configures a Directory.
type Option func(*Directory)

// WithBaseDN pins the search base instead of probing the root DSE for
// defaultNamingContext on first use.
func WithBaseDN(dn string) Option {
	return func(d *Directory) {
		d.baseDN = dn
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log ldapclient.Logger) Option {
	return func(d *Directory) {
		if log != nil {
			d.log = log
		}
	}
}

// New binds a Directory to a connection collaborator.
func New(client ldapclient.Client, opts ...Option) *Directory {
	d := &Directory{
		client: client,
		log:    ldapclient.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.Named("directory")
	return d
}

// Client exposes the underlying connection collaborator.
func (d *Directory) Client() ldapclient.Client {
	return d.client
}

// BaseDN returns the directory's base DN. When none was configured the
// root DSE is probed for defaultNamingContext on first use and the
// answer kept for the Directory's lifetime.
func (d *Directory) BaseDN(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.baseDN != "" {
		return d.baseDN, nil
	}

	dn, err := d.client.GetBaseDN(ctx)
	if err != nil {
		return "", err
	}
	d.baseDN = dn

	d.log.Debug("resolved base DN from root DSE", map[string]any{
		"base_dn": dn,
	})
	return dn, nil
}

// Search starts a query scoped to the directory.
func (d *Directory) Search() *Search {
	return &Search{
		dir:     d,
		builder: NewBuilder(),
		log:     d.log.Named("search"),
	}
}

// Users returns the user manager.
func (d *Directory) Users() *UserManager {
	return &UserManager{dir: d, log: d.log.Named("users")}
}

// Groups returns the group manager.
func (d *Directory) Groups() *GroupManager {
	return &GroupManager{dir: d, log: d.log.Named("groups")}
}

// OUs returns the organizational unit manager.
func (d *Directory) OUs() *OUManager {
	return &OUManager{dir: d, log: d.log.Named("ous")}
}
