package orchestration

// GroupTasks greedily partitions tasks, already in dependency order, into
// concurrency groups. A task joins the current group only when it is
// compatible with every member in both directions and none of its
// dependencies is a member; otherwise it opens a new group.
func GroupTasks(ordered []Task) [][]string {
	var groups [][]string
	var current []Task
	members := make(map[string]bool)

	flush := func() {
		if len(current) == 0 {
			return
		}
		ids := make([]string, len(current))
		for i, t := range current {
			ids[i] = t.ID()
		}
		groups = append(groups, ids)
		current = nil
		members = make(map[string]bool)
	}

	for _, task := range ordered {
		if !joinable(task, current, members) {
			flush()
		}
		current = append(current, task)
		members[task.ID()] = true
	}
	flush()
	return groups
}

func joinable(task Task, group []Task, members map[string]bool) bool {
	for _, dep := range task.Descriptor().Dependencies {
		if members[dep] {
			return false
		}
	}
	for _, other := range group {
		if !task.CompatibleWith(other) || !other.CompatibleWith(task) {
			return false
		}
	}
	return true
}
