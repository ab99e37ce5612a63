// Package autorun implements the reactive subscription engine.
//
// An autorun is a live (selector, callback) pair. After every committed
// dispatch the engine evaluates each live selector against the committed
// tree, in registration order, and invokes the callback only when the
// selected value changed under the subscription's comparator (structural
// equality by default). Callbacks run on the owning service's scheduler,
// never inline with dispatch.
//
// Selector and callback failures are contained per subscription: one
// faulting autorun never affects another, nor the dispatch pipeline. A
// subscription is never evaluated against a tree newer than the commit the
// evaluation is for, and commits reach it in order.
package autorun
