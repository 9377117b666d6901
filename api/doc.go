/*
Package api exposes a peer's coordinator to a local UI over
HTTP. Files, invites and joins are plain JSON endpoints;
notifications are pushed to websocket subscribers.
*/
package api
