// Package xlockrun runs a user task inside a distributed critical section
// guarded by one or more named locks held across a quorum of lock-service
// nodes, keeping the locks alive for the task's duration by periodically
// extending their TTL.
//
// The package defines the Client/Lock contract the runner depends on
// (lockclient.go) and ships two implementations of it, redisClient
// (Redlock over go-redis/redsync) and etcdClient (etcd/concurrency), but
// the runner itself never imports a backend directly — it is constructed
// with whichever Client the caller chooses.
package xlockrun
