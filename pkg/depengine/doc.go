/*
Package depengine implements the rule/close/sub_close operations of
§4.3: the table of tasks blocked on a set of (datum, subscript) inputs,
and the bookkeeping that moves a task to ready the moment its last
input closes.

Rule never touches the network or the datum store directly; it is
handed a LocalLookup (the local store) and a RemoteSubscriber (the
cross-server sync client) so it stays unit-testable with fakes. A
server assembles these from pkg/store, pkg/subs, and internal/rpc.

Close and SubClose are idempotent against a task listed twice under
the same closing input — duplicate-input rules are legal per the data
model and must not double-count a close.
*/
package depengine
