/*
Package ad provides a typed query and management layer over Active
Directory.

The package is the domain half of the module: it knows what Active
Directory objects look like and how to ask for them, and delegates all
wire concerns to the connection collaborator in internal/ldap.

# Searching

Queries are composed fluently and executed through a Directory:

	objects, err := dir.Search().
		Where("objectCategory", ad.Equals, "person").
		Where("cn", ad.Contains, "smith").
		Select("cn", "mail").
		Get(ctx)

The filter Builder renders predicates into RFC 4515 filter text,
escaping user input so metacharacters always match literally.
Consecutive predicates sharing a conjunction batch into one group; a
conjunction change nests the accumulated expression into the next
group. Grouping is strictly append-order.

Three traversal modes exist: whole-subtree (the default), base-object
read, and single-level listing. Large result sets stream through a
Pager that threads the server's paging cookie between requests, or
collect via Paginate.

# Mapping

Rows come back as the closed Object variant set: User, Group,
Computer, Container, Printer, ExchangeServer, or the generic Entry,
dispatched on the first RDN of objectCategory. Every variant embeds
*Entry, so no raw attribute is lost to categorization. Raw mode skips
dispatch entirely.

# Managers

UserManager, GroupManager and OUManager wrap the common directory
administration tasks: lookup by any identifier form (DN, GUID, SID,
UPN, sAMAccountName), create/delete/move, group membership with
cycle-safe nested expansion, account enable/disable, and password
operations over encrypted connections.
*/
package ad
