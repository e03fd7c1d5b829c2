// Package shared holds code used across licsrv packages that belongs to no
// single layer. Its testutil subpackage provides log capture, license fixtures
// and the Store contract suite shared by the memory and PostgreSQL stores.
package shared
