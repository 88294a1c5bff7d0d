// Package session implements the conversation session controller.
//
// # Overview
//
// A Controller owns the "current conversation" pointer for one user and runs
// the send lifecycle:
//
//	Idle -> UserMessageAppended -> AwaitingResponse -> Settled(Success | Failure)
//
// The user message is stored before the generator is called. While the
// generator runs, a loading placeholder is composed onto the current
// conversation in memory only. When the reply arrives it is appended to the
// freshest stored copy of the conversation it was generated for, which may no
// longer be current. Replies for deleted conversations are discarded.
//
// # Events
//
// Every transition publishes a "view" Event with a Snapshot; failures and
// deletions also publish a "notification" Event. The Manager wires all
// controllers to a shared Broadcaster keyed by user id:
//
//	mgr := session.NewManager(session.ManagerConfig{Backend: backend, Generator: gen})
//	ctrl, err := mgr.For(ctx, userID)
//	events, _ := mgr.Subscribe(ctx, userID)
//
// # Errors
//
//   - ErrEmptyMessage: blank text, nothing was stored or sent
//   - ErrBusy: the current conversation already awaits a reply
//   - ErrNoConversation: nothing is selected; call Open or StartNew
package session
