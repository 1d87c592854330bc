package manifest

import "github.com/banksean/pipeforge/errorkind"

// topoSortPipelines orders pipelines so that a pipeline always appears after
// the pipeline it names as its build environment, detecting cycles in that
// graph with a DFS recursion-stack set.
func topoSortPipelines(pipelines []Pipeline, byName map[string]*Pipeline) ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(pipelines))
	order := make([]string, 0, len(pipelines))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return errorkind.New(errorkind.CycleDetected, name, "pipeline build-environment cycle: "+renderCycle(append(path, name)), nil)
		}
		p, ok := byName[name]
		if !ok {
			return errorkind.New(errorkind.ManifestInvalid, name, "pipeline references unknown build environment", nil)
		}
		state[name] = visiting
		if p.Build != nil {
			if err := visit(*p.Build, appendCopy(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, p := range pipelines {
		if err := visit(p.Name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// checkDeviceParentCycles rejects a stage whose devices form a cycle through
// their "parent" references, via the same visiting/done DFS shape used for
// pipelines.
func checkDeviceParentCycles(devices map[string]Device) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(devices))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return errDeviceCycle(renderCycle(append(path, name)))
		}
		d, ok := devices[name]
		if !ok {
			return errDeviceUnknown(name)
		}
		if d.Parent == "" {
			state[name] = done
			return nil
		}
		state[name] = visiting
		if err := visit(d.Parent, appendCopy(path, name)); err != nil {
			return err
		}
		state[name] = done
		return nil
	}

	for name := range devices {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// appendCopy returns path+elem without risking aliasing path's backing array
// across sibling recursive calls that each extend the same prefix.
func appendCopy(path []string, elem string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = elem
	return out
}

func renderCycle(path []string) string {
	out := ""
	for i, name := range path {
		if i > 0 {
			out += " -> "
		}
		out += name
	}
	return out
}

type cycleErr struct{ msg string }

func (e *cycleErr) Error() string { return e.msg }

func errDeviceCycle(desc string) error  { return &cycleErr{"device parent cycle: " + desc} }
func errDeviceUnknown(name string) error { return &cycleErr{"device references unknown parent: " + name} }
