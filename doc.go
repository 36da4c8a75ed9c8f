// Package strata defines the core model of a schema-typed, distributed data store:
// schemas describe data shapes (primitives, maps, records), namespaces isolate named
// structures that instantiate those schemas, and transactions are composable, type-checked
// extraction pipelines over a structure's data. Building a transaction is pure and local;
// running one is the job of a Cluster, the external commit authority.
//
// Concrete cluster backends live in subpackages: inmemory (single process, useful for
// embedding and tests), redis and cassandra. The restapi subpackage surfaces cluster
// operations over HTTP.
//
// Failure channels are kept distinct throughout: data-level failures (e.g. extracting
// an absent optional) are strata.Error values declared by the transaction itself, while
// infrastructure failures from the cluster boundary are *strata.DistributedError.
package strata
