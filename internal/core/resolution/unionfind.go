package resolution

import "github.com/google/uuid"

// unionFind はエンティティIDの素集合データ構造です
// マージ対象のペアを推移的にクラスタへまとめるために使います
type unionFind struct {
	parent map[uuid.UUID]uuid.UUID
	rank   map[uuid.UUID]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[uuid.UUID]uuid.UUID),
		rank:   make(map[uuid.UUID]int),
	}
}

func (u *unionFind) add(id uuid.UUID) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
		u.rank[id] = 0
	}
}

func (u *unionFind) find(id uuid.UUID) uuid.UUID {
	u.add(id)
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	// 経路圧縮
	for u.parent[id] != root {
		id, u.parent[id] = u.parent[id], root
	}
	return root
}

func (u *unionFind) union(a, b uuid.UUID) {
	rootA := u.find(a)
	rootB := u.find(b)
	if rootA == rootB {
		return
	}

	if u.rank[rootA] < u.rank[rootB] {
		rootA, rootB = rootB, rootA
	}
	u.parent[rootB] = rootA
	if u.rank[rootA] == u.rank[rootB] {
		u.rank[rootA]++
	}
}

// clusters はメンバーが2つ以上の集合のみを返します
func (u *unionFind) clusters() map[uuid.UUID][]uuid.UUID {
	groups := make(map[uuid.UUID][]uuid.UUID)
	for id := range u.parent {
		root := u.find(id)
		groups[root] = append(groups[root], id)
	}

	for root, members := range groups {
		if len(members) < 2 {
			delete(groups, root)
		}
	}
	return groups
}
