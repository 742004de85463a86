// Package securemem holds short-lived secrets in memory that is locked
// against swapping, guarded against overflow, and wiped the moment the
// owner is done with it.
//
// Backing storage comes from memguard LockedBuffers, which live outside
// the Go heap, so the garbage collector never copies secret bytes around.
//
// Three containers share one zeroization contract:
//
//   - [Secret] -- exactly Len bytes, sized by a [Size] type parameter
//   - [SizedBuffer] -- growable up to Len plus reserved headroom
//   - [Buffer] -- unsized, grows by reallocating locked memory
//
// Contents are reachable through Expose (a heap copy the caller must
// [Wipe]) or ExposeBorrowed (a view valid until Destroy, and only while
// the owner is reachable; see [runtime.KeepAlive]). KeyView and ChaChaKey
// hand out borrowed key views after a length check.
//
// Destroy wipes and releases memory exactly once. Every container also
// registers Destroy as a runtime finalizer, so memory of a container that
// was dropped on an error path is still wiped, but callers should always
// defer Destroy themselves.
//
// Containers are not safe for concurrent mutation; callers that share one
// across goroutines provide their own locking.
package securemem
