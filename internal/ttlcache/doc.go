// Package ttlcache provides a generic in-memory cache whose entries expire a
// fixed time after they are written.
//
// Expiry is enforced on every read, so an expired value is never returned even
// when the background sweep has not run yet. The sweep also bounds memory: when
// the cache grows past its high-water mark the oldest entries are evicted until
// it is back at the low-water mark.
//
//	c := ttlcache.New[bool](ttlcache.Options{TTL: 30 * time.Second}, logger)
//	defer c.Close()
//	c.Set("admin:!room:@alice", true)
//	v, ok := c.Get("admin:!room:@alice")
//	c.Invalidate("!room")
package ttlcache
