/*
Package events provides a small generic pub/sub broker used to break the
cyclic-ownership patterns the core would otherwise need — e.g. the NAT
behavior tracker notifying an interface-change monitor's caller without the
monitor holding a reference back to the tracker (spec.md §9 "cyclic
ownership" design note).

Each event family gets its own Broker[T] instantiation; subscribers are
plain receive-only channels. A channel left unread stays registered and
misses events once its buffer is full; Unsubscribe removes and closes
it. There is no
topic string matching: type T is the topic.
*/
package events
