package cassandra

import (
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"time"

	"github.com/gocql/gocql"
	retry "github.com/sethvargo/go-retry"

	"github.com/sharedcode/strata"
	"github.com/sharedcode/strata/cel"
	"github.com/sharedcode/strata/redis"
)

// Lock time out for the cache based locking of value writes.
const writeLockDuration = time.Duration(30 * time.Second)

func structureCacheKey(nsID strata.UUID, name string) string {
	return fmt.Sprintf("strata:cas:structure:%s:%s", nsID, name)
}

func writeLockKey(nsID strata.UUID, name string) string {
	return fmt.Sprintf("strata:cas:lock:%s:%s", nsID, name)
}

// storedValue is the JSON envelope a materialized value is persisted in, so an
// explicit null stays distinguishable from an absent row.
type storedValue struct {
	Value any `json:"value"`
}

// Cluster is the Cassandra-backed commit authority. The master copy of
// namespaces, registrations and values lives in Cassandra tables; the Redis
// cache fronts registration reads and hosts the per-structure write locks.
type Cluster struct {
	cache     redis.Cache
	marshaler strata.Marshaler
}

// NewCluster returns a Cluster using the Redis client over the singleton
// Connection for caching and locking; both OpenConnection functions (this
// package's and the redis package's) must have been called.
func NewCluster() *Cluster {
	return NewClusterWithCache(redis.NewClient())
}

// NewClusterWithCache returns a Cluster over the given cache, e.g. the redis
// mock client when no live Redis is available.
func NewClusterWithCache(cache redis.Cache) *Cluster {
	return &Cluster{cache: cache, marshaler: strata.NewMarshaler()}
}

func connectionClosedError(op string) error {
	return &strata.DistributedError{Op: op, Err: fmt.Errorf("cassandra connection is closed; call OpenConnection(config) to open it")}
}

func (c *Cluster) CreateNamespace(ctx context.Context, ns strata.Namespace) error {
	if connection == nil {
		return connectionClosedError("createNamespace")
	}
	selectStatement := fmt.Sprintf("SELECT id FROM %s.namespace WHERE name = ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, ns.Name).WithContext(ctx)
	if connection.Config.ConsistencyBook.NamespaceGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.NamespaceGet)
	}
	var id gocql.UUID
	if err := qry.Scan(&id); err == nil {
		if strata.UUID(id) != ns.ID {
			return &strata.DistributedError{Op: "createNamespace", Err: fmt.Errorf("namespace %q already exists", ns.Name)}
		}
		return nil
	} else if err != gocql.ErrNotFound {
		return &strata.DistributedError{Op: "createNamespace", Err: err}
	}

	insertStatement := fmt.Sprintf("INSERT INTO %s.namespace (name, id) VALUES(?,?);", connection.Config.Keyspace)
	qry = connection.Session.Query(insertStatement, ns.Name, gocql.UUID(ns.ID)).WithContext(ctx)
	if connection.Config.ConsistencyBook.NamespaceAdd > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.NamespaceAdd)
	}
	if err := qry.Exec(); err != nil {
		return &strata.DistributedError{Op: "createNamespace", Err: err}
	}
	return nil
}

func (c *Cluster) CreateStructure(ctx context.Context, st *strata.Structure) error {
	if connection == nil {
		return connectionClosedError("createStructure")
	}
	if err := c.checkNamespace(ctx, "createStructure", st.NamespaceName, st.NamespaceID); err != nil {
		return err
	}
	if _, found, err := c.fetchInfo(ctx, st.NamespaceID, st.Name); err != nil {
		return &strata.DistributedError{Op: "createStructure", Err: err}
	} else if found {
		return &strata.DistributedError{Op: "createStructure", Err: fmt.Errorf("structure %q already exists in namespace %q", st.Name, st.NamespaceName)}
	}
	if st.ValueValidation != "" {
		// Compile now so a malformed expression fails creation, not writes.
		if _, err := cel.NewValidator(st.Name, st.ValueValidation); err != nil {
			return &strata.DistributedError{Op: "createStructure", Err: err}
		}
	}

	info := strata.NewStructureInfo(st, st.CacheConfig)
	ba, err := c.marshaler.Marshal(info)
	if err != nil {
		return &strata.DistributedError{Op: "createStructure", Err: err}
	}
	insertStatement := fmt.Sprintf("INSERT INTO %s.structure (ns_id, name, info) VALUES(?,?,?);", connection.Config.Keyspace)
	qry := connection.Session.Query(insertStatement, gocql.UUID(st.NamespaceID), st.Name, string(ba)).WithContext(ctx)
	if connection.Config.ConsistencyBook.StructureAdd > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.StructureAdd)
	}
	if err := qry.Exec(); err != nil {
		return &strata.DistributedError{Op: "createStructure", Err: err}
	}
	// Tolerate error in Redis caching.
	if err := c.cache.SetStruct(ctx, structureCacheKey(st.NamespaceID, st.Name), info, info.CacheConfig.StructureInfoCacheDuration); err != nil {
		log.Warn(fmt.Sprintf("CreateStructure failed (redis setstruct), details: %v", err))
	}
	return nil
}

func (c *Cluster) DropStructure(ctx context.Context, st *strata.Structure) error {
	if connection == nil {
		return connectionClosedError("dropStructure")
	}
	if _, err := c.resolve(ctx, "dropStructure", st); err != nil {
		return err
	}

	// Drop the registration and the value row in parallel.
	tr := strata.NewTaskRunner(ctx, 2)
	tr.Go(func() error {
		deleteStatement := fmt.Sprintf("DELETE FROM %s.structure WHERE ns_id = ? AND name = ?;", connection.Config.Keyspace)
		qry := connection.Session.Query(deleteStatement, gocql.UUID(st.NamespaceID), st.Name).WithContext(tr.GetContext())
		if connection.Config.ConsistencyBook.StructureRemove > gocql.Any {
			qry.Consistency(connection.Config.ConsistencyBook.StructureRemove)
		}
		return qry.Exec()
	})
	tr.Go(func() error {
		deleteStatement := fmt.Sprintf("DELETE FROM %s.value WHERE ns_id = ? AND name = ?;", connection.Config.Keyspace)
		qry := connection.Session.Query(deleteStatement, gocql.UUID(st.NamespaceID), st.Name).WithContext(tr.GetContext())
		if connection.Config.ConsistencyBook.StructureRemove > gocql.Any {
			qry.Consistency(connection.Config.ConsistencyBook.StructureRemove)
		}
		return qry.Exec()
	})
	if err := tr.Wait(); err != nil {
		return &strata.DistributedError{Op: "dropStructure", Err: err}
	}
	// Tolerate Redis cache failure.
	if err := c.cache.Delete(ctx, structureCacheKey(st.NamespaceID, st.Name)); err != nil {
		log.Warn(fmt.Sprintf("DropStructure failed (redis delete), details: %v", err))
	}
	return nil
}

func (c *Cluster) Structures(ctx context.Context, ns strata.Namespace) ([]strata.StructureInfo, error) {
	if connection == nil {
		return nil, connectionClosedError("structures")
	}
	if err := c.checkNamespace(ctx, "structures", ns.Name, ns.ID); err != nil {
		return nil, err
	}
	selectStatement := fmt.Sprintf("SELECT info FROM %s.structure WHERE ns_id = ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, gocql.UUID(ns.ID)).WithContext(ctx)
	if connection.Config.ConsistencyBook.StructureGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.StructureGet)
	}
	iter := qry.Iter()
	var infos []strata.StructureInfo
	var ba string
	for iter.Scan(&ba) {
		var info strata.StructureInfo
		if err := c.marshaler.Unmarshal([]byte(ba), &info); err != nil {
			return nil, &strata.DistributedError{Op: "structures", Err: err}
		}
		infos = append(infos, info)
	}
	if err := iter.Close(); err != nil {
		return nil, &strata.DistributedError{Op: "structures", Err: err}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (c *Cluster) Namespaces(ctx context.Context) ([]strata.Namespace, error) {
	if connection == nil {
		return nil, connectionClosedError("namespaces")
	}
	selectStatement := fmt.Sprintf("SELECT name, id FROM %s.namespace;", connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement).WithContext(ctx)
	if connection.Config.ConsistencyBook.NamespaceGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.NamespaceGet)
	}
	iter := qry.Iter()
	var nss []strata.Namespace
	var name string
	var id gocql.UUID
	for iter.Scan(&name, &id) {
		nss = append(nss, strata.Namespace{Name: name, ID: strata.UUID(id)})
	}
	if err := iter.Close(); err != nil {
		return nil, &strata.DistributedError{Op: "namespaces", Err: err}
	}
	sort.Slice(nss, func(i, j int) bool { return nss[i].Name < nss[j].Name })
	return nss, nil
}

func (c *Cluster) SetValue(ctx context.Context, st *strata.Structure, value any) error {
	if connection == nil {
		return connectionClosedError("setValue")
	}
	info, err := c.resolve(ctx, "setValue", st)
	if err != nil {
		return err
	}
	if err := info.Schema.CheckValue(value); err != nil {
		return err
	}
	if info.ValueValidation != "" {
		v, err := cel.NewValidator(info.Name, info.ValueValidation)
		if err != nil {
			return &strata.DistributedError{Op: "setValue", Err: err}
		}
		ok, err := v.Validate(value)
		if err != nil {
			return &strata.DistributedError{Op: "setValue", Err: err}
		}
		if !ok {
			return strata.Error{Code: strata.InvalidValue, Err: fmt.Errorf("value rejected by validation expression %q", info.ValueValidation)}
		}
	}

	ba, err := c.marshaler.Marshal(storedValue{Value: value})
	if err != nil {
		return &strata.DistributedError{Op: "setValue", Err: err}
	}

	// Serialize same-structure writes behind the structure's lock key.
	lk := writeLockKey(st.NamespaceID, st.Name)
	owner, err := redis.Lock(ctx, c.cache, lk, writeLockDuration)
	if err != nil {
		return err
	}
	defer redis.Unlock(ctx, c.cache, lk, owner)

	insertStatement := fmt.Sprintf("INSERT INTO %s.value (ns_id, name, value) VALUES(?,?,?);", connection.Config.Keyspace)
	qry := connection.Session.Query(insertStatement, gocql.UUID(st.NamespaceID), st.Name, string(ba)).WithContext(ctx)
	if connection.Config.ConsistencyBook.ValueSet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.ValueSet)
	}
	if err := qry.Exec(); err != nil {
		return &strata.DistributedError{Op: "setValue", Err: err}
	}
	return nil
}

func (c *Cluster) Commit(ctx context.Context, t *strata.Transaction) (any, error) {
	root := t.Root()
	if root == nil {
		// Structure-free pipeline (constants); nothing to snapshot.
		return t.Evaluate(ctx, nil)
	}
	if connection == nil {
		return nil, connectionClosedError("commit")
	}

	// Resolve the registration and the value snapshot concurrently; transient
	// faults get a backoff loop before the commit gives up.
	var sv storedValue
	var hasValue bool
	tr := strata.NewTaskRunner(ctx, 2)
	tr.Go(func() error {
		_, err := c.resolve(tr.GetContext(), "commit", root)
		return err
	})
	tr.Go(func() error {
		return strata.Retry(tr.GetContext(), func(ctx context.Context) error {
			selectStatement := fmt.Sprintf("SELECT value FROM %s.value WHERE ns_id = ? AND name = ?;", connection.Config.Keyspace)
			qry := connection.Session.Query(selectStatement, gocql.UUID(root.NamespaceID), root.Name).WithContext(ctx)
			if connection.Config.ConsistencyBook.ValueGet > gocql.Any {
				qry.Consistency(connection.Config.ConsistencyBook.ValueGet)
			}
			var ba string
			if err := qry.Scan(&ba); err != nil {
				if err == gocql.ErrNotFound {
					return nil
				}
				if strata.ShouldRetry(err) {
					return retry.RetryableError(err)
				}
				return err
			}
			if err := c.marshaler.Unmarshal([]byte(ba), &sv); err != nil {
				return err
			}
			hasValue = true
			return nil
		}, nil)
	})
	if err := tr.Wait(); err != nil {
		if _, ok := err.(*strata.DistributedError); ok {
			return nil, err
		}
		return nil, &strata.DistributedError{Op: "commit", Err: err}
	}
	if !hasValue {
		return nil, &strata.DistributedError{Op: "commit", Err: fmt.Errorf("structure %q has no materialized value", root.Name)}
	}

	// The snapshot was read once above; every stage observes the same state.
	reader := strata.StructureReaderFunc(func(ctx context.Context, st *strata.Structure) (any, error) {
		return sv.Value, nil
	})
	return t.Evaluate(ctx, reader)
}

// checkNamespace verifies the namespace is registered under the same identity
// the caller's binding is scoped to.
func (c *Cluster) checkNamespace(ctx context.Context, op string, name string, id strata.UUID) error {
	selectStatement := fmt.Sprintf("SELECT id FROM %s.namespace WHERE name = ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, name).WithContext(ctx)
	if connection.Config.ConsistencyBook.NamespaceGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.NamespaceGet)
	}
	var registeredID gocql.UUID
	if err := qry.Scan(&registeredID); err != nil {
		if err == gocql.ErrNotFound {
			return &strata.DistributedError{Op: op, Err: fmt.Errorf("namespace %q not found", name)}
		}
		return &strata.DistributedError{Op: op, Err: err}
	}
	if strata.UUID(registeredID) != id {
		return &strata.DistributedError{
			Op: op,
			Err: strata.Error{
				Code: strata.NamespaceMismatch,
				Err:  fmt.Errorf("namespace %q is registered under a different identity", name),
			},
		}
	}
	return nil
}

// fetchInfo returns the structure's registration, preferring the Redis cache
// and falling back to the Cassandra table on a miss. Records fetched from
// Cassandra are written back to the cache (best-effort).
func (c *Cluster) fetchInfo(ctx context.Context, nsID strata.UUID, name string) (strata.StructureInfo, bool, error) {
	var info strata.StructureInfo
	found, err := c.cache.GetStruct(ctx, structureCacheKey(nsID, name), &info)
	if err != nil {
		log.Warn(fmt.Sprintf("structure fetch (redis getstruct) failed, details: %v", err))
	}
	if found && err == nil {
		return info, true, nil
	}

	selectStatement := fmt.Sprintf("SELECT info FROM %s.structure WHERE ns_id = ? AND name = ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, gocql.UUID(nsID), name).WithContext(ctx)
	if connection.Config.ConsistencyBook.StructureGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.StructureGet)
	}
	var ba string
	if err := qry.Scan(&ba); err != nil {
		if err == gocql.ErrNotFound {
			return strata.StructureInfo{}, false, nil
		}
		return strata.StructureInfo{}, false, err
	}
	if err := c.marshaler.Unmarshal([]byte(ba), &info); err != nil {
		return strata.StructureInfo{}, false, err
	}
	if err := c.cache.SetStruct(ctx, structureCacheKey(nsID, name), info, info.CacheConfig.StructureInfoCacheDuration); err != nil {
		log.Warn(fmt.Sprintf("structure fetch (redis setstruct) failed, details: %v", err))
	}
	return info, true, nil
}

// resolve fetches the structure's registration and verifies it is compatible
// with the caller's binding.
func (c *Cluster) resolve(ctx context.Context, op string, st *strata.Structure) (strata.StructureInfo, error) {
	if err := c.checkNamespace(ctx, op, st.NamespaceName, st.NamespaceID); err != nil {
		return strata.StructureInfo{}, err
	}
	info, found, err := c.fetchInfo(ctx, st.NamespaceID, st.Name)
	if err != nil {
		return strata.StructureInfo{}, &strata.DistributedError{Op: op, Err: err}
	}
	if !found {
		return strata.StructureInfo{}, &strata.DistributedError{Op: op, Err: fmt.Errorf("structure %q not found in namespace %q", st.Name, st.NamespaceName)}
	}
	if !info.Schema.Equal(st.Schema) {
		return strata.StructureInfo{}, &strata.DistributedError{Op: op, Err: fmt.Errorf("structure %q schema differs from its registration", st.Name)}
	}
	return info, nil
}
