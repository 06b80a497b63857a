// Package agent implements the example agents: the currency conversion
// agent (a tool-calling loop with structured status reporting) and the
// trivial hello-world agent. Conversation state is persisted per context
// id through a CheckpointStore; progress is reported through ephemeral
// ProgressEvent values that terminate in a structured response.
package agent
