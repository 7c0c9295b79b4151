// Package model defines the data structures shared by the listener, the
// harness and the report writers.
//
// This package contains the following main types:
//   - Status, Message, Location: the document peers pull and push
//   - RunReport: the outcome of one conformance run
//   - PhaseResult: one phase of a run and how it ended
//   - TeardownEntry: one stop call made while tearing a run down
//
// The peer, harness, pipeline, database and report packages all import
// these types, so they live below every one of them. Status is the JSON
// document on the wire; RunReport is the JSON stored in the run history.
package model
