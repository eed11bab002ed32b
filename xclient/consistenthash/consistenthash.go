package consistenthash

import (
	"hash/crc32"
	"sort"
	"strconv"
)

// Hash 将数据映射为环上的位置
type Hash func(data []byte) uint32

// ConsistentHash 是一致性哈希环，不是并发安全的
type ConsistentHash struct {
	hash Hash
	// 虚拟节点倍数
	replicas int
	// 虚拟节点的哈希值，排序好的
	keys []uint32
	// 虚拟节点与真实节点的对应关系
	// key 是虚拟节点的哈希值，value 是真实节点
	virtualMap map[uint32]string
	// 已经加入的真实节点
	nodes map[string]struct{}
}

// New 创建哈希环，fn 为 nil 时使用 crc32
func New(replicas int, fn Hash) *ConsistentHash {
	if replicas <= 0 {
		replicas = 1
	}
	if fn == nil {
		fn = crc32.ChecksumIEEE
	}
	return &ConsistentHash{
		hash:       fn,
		replicas:   replicas,
		keys:       make([]uint32, 0),
		virtualMap: make(map[uint32]string),
		nodes:      make(map[string]struct{}),
	}
}

func (c *ConsistentHash) virtualHash(i int, node string) uint32 {
	return c.hash([]byte(strconv.Itoa(i) + node))
}

// Add 加入真实节点，已存在的节点会被忽略
func (c *ConsistentHash) Add(nodes ...string) {
	for _, node := range nodes {
		if _, ok := c.nodes[node]; ok || node == "" {
			continue
		}
		c.nodes[node] = struct{}{}
		for i := 0; i < c.replicas; i++ {
			hash := c.virtualHash(i, node)
			// 哈希冲突时先加入的节点优先
			if _, ok := c.virtualMap[hash]; ok {
				continue
			}
			c.keys = append(c.keys, hash)
			c.virtualMap[hash] = node
		}
	}
	sort.Slice(c.keys, func(i, j int) bool {
		return c.keys[i] < c.keys[j]
	})
}

// Get 返回 key 顺时针方向上的第一个真实节点，环为空时返回 ""
func (c *ConsistentHash) Get(key string) string {
	if len(c.keys) == 0 {
		return ""
	}
	hash := c.hash([]byte(key))
	// 二分查找
	idx := sort.Search(len(c.keys), func(i int) bool {
		return c.keys[i] >= hash
	})
	if idx == len(c.keys) {
		idx = 0
	}
	return c.virtualMap[c.keys[idx]]
}

// Delete 移除一个真实节点及其所有虚拟节点
func (c *ConsistentHash) Delete(node string) {
	if _, ok := c.nodes[node]; !ok {
		return
	}
	delete(c.nodes, node)
	for i := 0; i < c.replicas; i++ {
		hash := c.virtualHash(i, node)
		if c.virtualMap[hash] != node {
			continue
		}
		idx := sort.Search(len(c.keys), func(i int) bool {
			return c.keys[i] >= hash
		})
		if idx < len(c.keys) && c.keys[idx] == hash {
			c.keys = append(c.keys[:idx], c.keys[idx+1:]...)
		}
		delete(c.virtualMap, hash)
	}
}

// Len 返回真实节点的数量
func (c *ConsistentHash) Len() int {
	return len(c.nodes)
}
