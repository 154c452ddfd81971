// Package testdb provides SurrealDB databases for repository tests.
//
// Each TestDB connects to a live SurrealDB, applies every migrations/*.surql
// file and works in its own namespace, which is removed on test cleanup:
//
//	func TestSomething(t *testing.T) {
//	    tdb := testdb.New(t)
//	    store := repository.NewStore(tdb.DB)
//	}
//
// Tests skip unless TEST_DB_HOST or SECT_SURREAL_TESTS is set, and skip
// when the server cannot be reached. Connection settings come from
// TEST_DB_HOST, TEST_DB_PORT, TEST_DB_USER and TEST_DB_PASSWORD.
package testdb
