// Package memory provides a volatile key-value engine.
//
// Records live in a sharded concurrent map and are lost when the process
// exits. It backs storage.engine=memory, which is meant for tests and
// throwaway agents; sessions granted against it do not survive a restart.
//
// Thread Safety:
//
// All operations are thread-safe through the map's per-shard locks.
// Stored values are copied on the way in and on the way out.
//
// @design DS-0106
package memory
