package liveview

// Apply folds one update event into view and returns the next view. It is pure:
// view and its Fields map are never modified.
//
// A Deleted view absorbs every event. Events strictly older than the view are
// dropped; an equal timestamp re-applies. Two patches to the same field with
// the same timestamp resolve to whichever was delivered last.
func Apply(view View, event UpdateEvent) View {
	if view.Status == Deleted {
		return view
	}

	switch e := event.(type) {
	case FullReplace:
		if e.UpdatedAt < view.UpdatedAt {
			return view
		}
		next := view
		next.Fields = filterFields(view.Kind, e.Fields)
		next.UpdatedAt = e.UpdatedAt
		return next

	case FieldPatch:
		if e.UpdatedAt < view.UpdatedAt {
			return view
		}
		if !view.Kind.ValidField(e.Field) {
			return view
		}
		next := view
		next.Fields = cloneFields(view.Fields)
		next.Fields[e.Field] = e.Value
		next.UpdatedAt = e.UpdatedAt
		return next

	case DocumentDeleted:
		// deletion is honored regardless of timestamp; the relay may send it
		// without one when a re-join finds the document missing
		next := view
		next.Status = Deleted
		next.DeleteReason = e.Reason
		if e.UpdatedAt > next.UpdatedAt {
			next.UpdatedAt = e.UpdatedAt
		}
		return next

	default:
		return view
	}
}
