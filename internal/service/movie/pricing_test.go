package movie

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPricing(t *testing.T) {
	Convey("Pricing.CostFor 按模型查价", t, func() {
		pricing := NewPricing(map[string]int{
			"fal-ai/kling-video/v1.6/standard/text-to-video": 20,
			"fal-ai/minimax-video":                           15,
		}, 10)

		Convey("配置过的模型用配置价", func() {
			So(pricing.CostFor("fal-ai/kling-video/v1.6/standard/text-to-video"), ShouldEqual, 20)
			So(pricing.CostFor("fal-ai/minimax-video"), ShouldEqual, 15)
		})

		Convey("未配置的模型落到默认价", func() {
			So(pricing.CostFor("some-unknown-model"), ShouldEqual, 10)
			So(pricing.CostFor(""), ShouldEqual, 10)
		})

		Convey("价格表为 nil 时全部走默认价", func() {
			p := NewPricing(nil, 8)
			So(p.CostFor("anything"), ShouldEqual, 8)
		})
	})
}
