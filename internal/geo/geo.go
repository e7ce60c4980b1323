package geo

import (
	"fmt"
	"math"
)

const earthRadiusKm = 6371.0

// 埃及的粗略经纬度范围，用来剔除地理编码到国外的结果。
const (
	egyptMinLat = 22.0
	egyptMaxLat = 32.0
	egyptMinLon = 25.0
	egyptMaxLon = 36.0
)

// HaversineKm 返回两点间的大圆距离（公里）。
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func InEgypt(lat, lon float64) bool {
	return lat >= egyptMinLat && lat <= egyptMaxLat && lon >= egyptMinLon && lon <= egyptMaxLon
}

// MapsLink 生成 Google Maps 坐标链接。
func MapsLink(lat, lon float64) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%s,%s", trimFloat(lat), trimFloat(lon))
}

func trimFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}
