package scenedetect

import "testing"

func TestMeanAbsDiff(t *testing.T) {
	a := []byte{0, 0, 255, 255}
	b := []byte{0, 0, 0, 0}
	got := meanAbsDiff(a, b)
	want := (255.0 + 255.0) / 4.0 / 255.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("meanAbsDiff = %v, want %v", got, want)
	}
}

func TestMeanAbsDiffIdentical(t *testing.T) {
	a := []byte{10, 20, 30}
	if got := meanAbsDiff(a, a); got != 0 {
		t.Errorf("meanAbsDiff(identical) = %v, want 0", got)
	}
}

func TestBoundariesFromCutsNoCuts(t *testing.T) {
	scenes := boundariesFromCuts(nil, 10.0)
	if len(scenes) != 1 {
		t.Fatalf("len(scenes) = %d, want 1", len(scenes))
	}
	if scenes[0].StartTime != 0 || scenes[0].EndTime != 10.0 {
		t.Errorf("scenes[0] = %+v, want [0,10)", scenes[0])
	}
}

func TestBoundariesFromCutsMergesShortScenes(t *testing.T) {
	// A cut at 0.5s would produce a scene [0, 0.5) shorter than
	// minSceneLength and must merge forward into the next boundary.
	scenes := boundariesFromCuts([]float64{0.5, 4.0}, 8.0)

	for i := 0; i < len(scenes); i++ {
		if scenes[i].EndTime-scenes[i].StartTime < minSceneLength && i != len(scenes)-1 {
			t.Errorf("scene %d is shorter than minSceneLength and not merged: %+v", i, scenes[i])
		}
	}
	if scenes[0].StartTime != 0 {
		t.Errorf("first scene must start at 0, got %v", scenes[0].StartTime)
	}
	if scenes[len(scenes)-1].EndTime != 8.0 {
		t.Errorf("last scene must end at duration, got %v", scenes[len(scenes)-1].EndTime)
	}
}

func TestBoundariesFromCutsMergesShortTailBackward(t *testing.T) {
	// A cut at 7.5s in an 8s video would leave a 0.5s tail with no
	// following scene to merge into, so it merges backward instead.
	scenes := boundariesFromCuts([]float64{7.5}, 8.0)
	if len(scenes) != 1 {
		t.Fatalf("len(scenes) = %d, want 1", len(scenes))
	}
	if scenes[0].StartTime != 0 || scenes[0].EndTime != 8.0 {
		t.Errorf("scenes[0] = %+v, want [0,8)", scenes[0])
	}
}

func TestBoundariesFromCutsContiguousAndOrdered(t *testing.T) {
	scenes := boundariesFromCuts([]float64{2.0, 5.0, 7.5}, 10.0)
	for i, sc := range scenes {
		if sc.Index != i {
			t.Errorf("scenes[%d].Index = %d, want %d", i, sc.Index, i)
		}
		if sc.EndTime <= sc.StartTime {
			t.Errorf("scenes[%d] has non-positive duration: %+v", i, sc)
		}
		if i > 0 && scenes[i-1].EndTime != sc.StartTime {
			t.Errorf("gap/overlap between scene %d and %d: %+v, %+v", i-1, i, scenes[i-1], sc)
		}
	}
	if scenes[0].StartTime != 0 || scenes[len(scenes)-1].EndTime != 10.0 {
		t.Errorf("scenes do not cover [0, duration): %+v", scenes)
	}
}
