// Package pxstore defines the storage collaborator of the proxy.
//
// [Storage] is the full read/write surface over blobs, blob states,
// certificates, confirmed blocks, events and the network description.
// [DBStorage] implements it once, over any [KV] backend;
// backends live in sibling packages (pxmemstore, pxbadger, pxsqlite)
// and can be wrapped by the LRU cache in pxcache.
//
// The pxstoretest package contains compliance suites
// that every backend and every Storage implementation must pass.
package pxstore
