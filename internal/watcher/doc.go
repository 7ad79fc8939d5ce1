// Package watcher turns file system changes in the handler directory into
// reload notifications.
package watcher
