package geo

import (
	"fmt"
	"strings"
)

// AroundQuery 构造 Overpass QL：对每个 selector 生成 around 过滤，并输出中心点。
// selector 形如 `node["amenity"]` 或 `way["highway"~"motorway|trunk"]`。
func AroundQuery(radiusM int, lat, lon float64, selectors ...string) string {
	var b strings.Builder
	b.WriteString("[out:json][timeout:25];\n(\n")
	for _, s := range selectors {
		typ, filter := splitSelector(s)
		fmt.Fprintf(&b, "  %s(around:%d,%g,%g)%s;\n", typ, radiusM, lat, lon, filter)
	}
	b.WriteString(");\nout center;")
	return b.String()
}

func splitSelector(s string) (string, string) {
	if i := strings.Index(s, "["); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}
