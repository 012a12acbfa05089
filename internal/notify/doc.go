// Package notify delivers job status updates to push channel subscribers.
//
// A Hub keeps the local broadcast group of websocket connections. A
// RedisLayer relays updates between server instances so every instance's hub
// sees every update, and a TopicNotifier forwards them to a Pub/Sub topic for
// other integrations. Multi combines them behind one convert.Notifier.
package notify
