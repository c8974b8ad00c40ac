package graph

// Reducer merges a node's partial update into the running state.
//
// Reducers must be pure and total: given the same inputs they return the
// same state, and they never fail. Shape problems in the update are caught
// earlier by Validator, at the node boundary.
//
// Typical rules:
//   - Scalar and optional fields: overwrite when present in delta
//   - Conversation history: append
//
// Example:
//
//	func reduce(prev State, delta Update) State {
//	    if delta.Query != nil {
//	        prev.Query = *delta.Query
//	    }
//	    prev.Messages = append(prev.Messages, delta.Messages...)
//	    return prev
//	}
type Reducer[S, U any] func(prev S, delta U) S
