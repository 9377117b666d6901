/*
Package coordinator ties logs, view and admission of one
peer together. It owns the exclusive section every state
change of a space passes through: local appends, ingested
log suffixes, grants and the replays they trigger. Callers
learn about the outcome through a Notifier.
*/
package coordinator
