/*
Package storage keeps the durable state of a gallery peer below its data directory:
one append-only file per writer log, a content-addressed blob directory, and the
space file naming the root, the local writer and the space secret.
*/
package storage
