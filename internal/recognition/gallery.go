package recognition

import (
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// galleryMaxNeighbors はHNSWグラフの近傍数
const galleryMaxNeighbors = 16

// Gallery は登録済みの顔埋め込みをHNSWグラフで保持する
// 1人につき複数の埋め込みを登録できる
type Gallery struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[string]
	people map[string]Match // ノードキー → 人物
	counts map[string]int   // 人物ID → 登録数
	dim    int
}

// NewGallery は空のGalleryを作成する
func NewGallery() *Gallery {
	g := hnsw.NewGraph[string]()
	g.M = galleryMaxNeighbors
	g.Ml = 1.0 / float64(galleryMaxNeighbors)
	g.Distance = hnsw.CosineDistance

	return &Gallery{
		graph:  g,
		people: make(map[string]Match),
		counts: make(map[string]int),
	}
}

// Add は人物の埋め込みを1件登録する
func (g *Gallery) Add(personID, name string, embedding []float32) error {
	if personID == "" {
		return fmt.Errorf("人物IDが空です")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("埋め込みが空です")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dim != 0 && len(embedding) != g.dim {
		return fmt.Errorf("埋め込みの次元が一致しません: %d != %d", len(embedding), g.dim)
	}
	g.dim = len(embedding)

	g.counts[personID]++
	key := fmt.Sprintf("%s#%d", personID, g.counts[personID])
	g.graph.Add(hnsw.MakeNode(key, embedding))
	g.people[key] = Match{PersonID: personID, Name: name}
	return nil
}

// Search は近い順に人物を返す。同じ人物は最も近い1件にまとめる
func (g *Gallery) Search(query []float32, k int, maxDistance float64) []Match {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.graph.Len() == 0 || len(query) != g.dim {
		return nil
	}

	// 同一人物の重複を除くため多めに探す
	neighbors := g.graph.Search(query, k*4)

	best := make(map[string]Match)
	for _, n := range neighbors {
		person, ok := g.people[n.Key]
		if !ok {
			continue
		}
		distance := float64(hnsw.CosineDistance(query, n.Value))
		if distance > maxDistance {
			continue
		}
		person.Similarity = 1 - distance
		if prev, ok := best[person.PersonID]; !ok || person.Similarity > prev.Similarity {
			best[person.PersonID] = person
		}
	}

	matches := make([]Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// People は登録済みの人物数を返す
func (g *Gallery) People() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.counts)
}
