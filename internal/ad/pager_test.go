package ad

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/adquery/internal/ldap"
)

func emptyCookie(page ldapclient.PageRequest) bool {
	return len(page.Cookie) == 0
}

func cookieIs(value string) func(ldapclient.PageRequest) bool {
	return func(page ldapclient.PageRequest) bool {
		return string(page.Cookie) == value
	}
}

func TestPager_ThreadsCookiesBetweenPages(t *testing.T) {
	dir, client := testDirectory()
	client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(emptyCookie)).
		Return(searchResult(testGroupEntry("G1"), testGroupEntry("G2")), []byte("cookie-1"), nil).Once()
	client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(cookieIs("cookie-1"))).
		Return(searchResult(testGroupEntry("G3"), testGroupEntry("G4")), []byte("cookie-2"), nil).Once()
	client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(cookieIs("cookie-2"))).
		Return(searchResult(testGroupEntry("G5")), []byte(nil), nil).Once()

	pager, err := dir.Search().AddWildcard().Pager(t.Context(), 2, false)
	require.NoError(t, err)

	var dns []string
	for pager.Next(t.Context()) {
		for _, entry := range pager.Entries() {
			dns = append(dns, entry.DN)
		}
	}

	require.NoError(t, pager.Err())
	assert.Len(t, dns, 5)
	assert.Equal(t, "CN=G1,OU=Groups,"+testBaseDN, dns[0])
	assert.Equal(t, "CN=G5,OU=Groups,"+testBaseDN, dns[4])
	assert.Equal(t, 3, pager.Pages())
	client.AssertExpectations(t)
}

func TestPager_FinalEmptyPageStillYields(t *testing.T) {
	dir, client := testDirectory()
	client.On("SearchPage", mock.Anything, mock.Anything, mock.Anything).
		Return(searchResult(), []byte(nil), nil).Once()

	pager, err := dir.Search().AddWildcard().Pager(t.Context(), 10, false)
	require.NoError(t, err)

	assert.True(t, pager.Next(t.Context()))
	assert.Empty(t, pager.Entries())
	assert.False(t, pager.Next(t.Context()))
	assert.NoError(t, pager.Err())
	assert.Equal(t, 1, pager.Pages())
}

func TestPager_PassesSizeAndCriticality(t *testing.T) {
	dir, client := testDirectory()
	client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(func(page ldapclient.PageRequest) bool {
		return page.Size == 500 && page.Critical
	})).Return(searchResult(testUserEntry()), []byte(nil), nil).Once()

	pager, err := dir.Search().AddWildcard().Pager(t.Context(), 500, true)
	require.NoError(t, err)

	assert.True(t, pager.Next(t.Context()))
	assert.False(t, pager.Next(t.Context()))
	client.AssertExpectations(t)
}

func TestPager_RejectsZeroPageSize(t *testing.T) {
	dir, _ := testDirectory()

	pager, err := dir.Search().AddWildcard().Pager(t.Context(), 0, false)

	require.Error(t, err)
	assert.Nil(t, pager)
	assert.Contains(t, err.Error(), "page size must be positive")
}

func TestPager_ScopeFollowsMode(t *testing.T) {
	dn := "OU=People," + testBaseDN

	t.Run("default mode pages the whole subtree", func(t *testing.T) {
		dir, client := testDirectory()
		client.On("SearchPage", mock.Anything, mock.MatchedBy(func(req *ldapclient.SearchRequest) bool {
			return req.Scope == ldapclient.ScopeWholeSubtree && req.BaseDN == testBaseDN
		}), mock.Anything).Return(searchResult(), []byte(nil), nil).Once()

		pager, err := dir.Search().AddWildcard().Pager(t.Context(), 100, false)
		require.NoError(t, err)
		pager.Next(t.Context())
		client.AssertExpectations(t)
	})

	t.Run("read mode pages the base object", func(t *testing.T) {
		dir, client := testDirectory()
		client.On("SearchPage", mock.Anything, mock.MatchedBy(func(req *ldapclient.SearchRequest) bool {
			return req.Scope == ldapclient.ScopeBaseObject && req.BaseDN == dn
		}), mock.Anything).Return(searchResult(), []byte(nil), nil).Once()

		pager, err := dir.Search().In(dn).Read().AddWildcard().Pager(t.Context(), 100, false)
		require.NoError(t, err)
		pager.Next(t.Context())
		client.AssertExpectations(t)
	})

	t.Run("listing mode pages one level", func(t *testing.T) {
		dir, client := testDirectory()
		client.On("SearchPage", mock.Anything, mock.MatchedBy(func(req *ldapclient.SearchRequest) bool {
			return req.Scope == ldapclient.ScopeSingleLevel && req.BaseDN == dn
		}), mock.Anything).Return(searchResult(), []byte(nil), nil).Once()

		pager, err := dir.Search().In(dn).Listing().AddWildcard().Pager(t.Context(), 100, false)
		require.NoError(t, err)
		pager.Next(t.Context())
		client.AssertExpectations(t)
	})

	t.Run("empty filter pages with the catch-all", func(t *testing.T) {
		dir, client := testDirectory()
		client.On("SearchPage", mock.Anything, mock.MatchedBy(func(req *ldapclient.SearchRequest) bool {
			return req.Filter == "(objectClass=*)"
		}), mock.Anything).Return(searchResult(), []byte(nil), nil).Once()

		pager, err := dir.Search().Pager(t.Context(), 100, false)
		require.NoError(t, err)
		pager.Next(t.Context())
		client.AssertExpectations(t)
	})
}

func TestPager_FetchFailureStopsIteration(t *testing.T) {
	dir, client := testDirectory()
	client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(emptyCookie)).
		Return(searchResult(testGroupEntry("G1")), []byte("next"), nil).Once()
	client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(cookieIs("next"))).
		Return(nil, []byte(nil), errors.New("size limit exceeded")).Once()

	pager, err := dir.Search().AddWildcard().Pager(t.Context(), 1, false)
	require.NoError(t, err)

	assert.True(t, pager.Next(t.Context()))
	assert.Len(t, pager.Entries(), 1)

	assert.False(t, pager.Next(t.Context()))
	require.Error(t, pager.Err())
	assert.Contains(t, pager.Err().Error(), "size limit exceeded")
	assert.Nil(t, pager.Entries())

	// A failed pager stays failed.
	assert.False(t, pager.Next(t.Context()))
	client.AssertExpectations(t)
}

func TestPager_BaseDNProbeFailurePropagates(t *testing.T) {
	client := new(MockClient)
	dir := New(client)
	client.On("GetBaseDN", mock.Anything).Return("", errors.New("root DSE unavailable"))

	pager, err := dir.Search().AddWildcard().Pager(t.Context(), 100, false)

	require.Error(t, err)
	assert.Nil(t, pager)
	client.AssertNotCalled(t, "SearchPage", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaginate(t *testing.T) {
	t.Run("flattens every page in server order", func(t *testing.T) {
		dir, client := testDirectory()
		client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(emptyCookie)).
			Return(searchResult(testGroupEntry("G1"), testGroupEntry("G2")), []byte("c1"), nil).Once()
		client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(cookieIs("c1"))).
			Return(searchResult(testGroupEntry("G3"), testGroupEntry("G4")), []byte("c2"), nil).Once()
		client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(cookieIs("c2"))).
			Return(searchResult(testGroupEntry("G5")), []byte(nil), nil).Once()

		paginator, err := dir.Search().AddWildcard().Paginate(t.Context(), 2, 0, false)

		require.NoError(t, err)
		assert.Equal(t, 5, paginator.Total())
		assert.Equal(t, 3, paginator.Pages())
		assert.Equal(t, 2, paginator.PageSize())
		assert.Equal(t, 0, paginator.CurrentPage())
		require.Len(t, paginator.Entries(), 5)
		assert.IsType(t, &Group{}, paginator.Entries()[0])
		assert.Equal(t, "CN=G1,OU=Groups,"+testBaseDN, paginator.Entries()[0].DN())
		assert.Equal(t, "CN=G5,OU=Groups,"+testBaseDN, paginator.Entries()[4].DN())
		client.AssertExpectations(t)
	})

	t.Run("page slices the flattened set", func(t *testing.T) {
		dir, client := testDirectory()
		client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(emptyCookie)).
			Return(searchResult(testGroupEntry("G1"), testGroupEntry("G2")), []byte("c1"), nil).Once()
		client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(cookieIs("c1"))).
			Return(searchResult(testGroupEntry("G3")), []byte(nil), nil).Once()

		paginator, err := dir.Search().AddWildcard().Paginate(t.Context(), 2, 0, false)
		require.NoError(t, err)

		first := paginator.Page(0)
		require.Len(t, first, 2)
		assert.Equal(t, "CN=G1,OU=Groups,"+testBaseDN, first[0].DN())

		last := paginator.Page(1)
		require.Len(t, last, 1)
		assert.Equal(t, "CN=G3,OU=Groups,"+testBaseDN, last[0].DN())

		assert.Nil(t, paginator.Page(2))
		assert.Nil(t, paginator.Page(-1))
	})

	t.Run("applies the deferred sort across pages", func(t *testing.T) {
		dir, client := testDirectory()
		client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(emptyCookie)).
			Return(searchResult(withAttribute(testGroupEntry("Zebra"), "description", "zulu")), []byte("c1"), nil).Once()
		client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(cookieIs("c1"))).
			Return(searchResult(withAttribute(testGroupEntry("Apple"), "description", "alpha")), []byte(nil), nil).Once()

		paginator, err := dir.Search().
			SortBy("description", Ascending).
			Paginate(t.Context(), 1, 0, false)

		require.NoError(t, err)
		require.Equal(t, 2, paginator.Total())
		assert.Equal(t, "CN=Apple,OU=Groups,"+testBaseDN, paginator.Entries()[0].DN())
		assert.Equal(t, "CN=Zebra,OU=Groups,"+testBaseDN, paginator.Entries()[1].DN())
	})

	t.Run("propagates a mid-drain failure", func(t *testing.T) {
		dir, client := testDirectory()
		client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(emptyCookie)).
			Return(searchResult(testGroupEntry("G1")), []byte("c1"), nil).Once()
		client.On("SearchPage", mock.Anything, mock.Anything, mock.MatchedBy(cookieIs("c1"))).
			Return(nil, []byte(nil), errors.New("paging cookie expired")).Once()

		paginator, err := dir.Search().AddWildcard().Paginate(t.Context(), 1, 0, false)

		require.Error(t, err)
		assert.Nil(t, paginator)
		assert.Contains(t, err.Error(), "paging cookie expired")
	})
}
