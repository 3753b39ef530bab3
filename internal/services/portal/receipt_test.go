package portal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atabat-scraper/internal/errcode"
)

const receiptHTML = `<html><body>
<span id="ctl00_cp1_lblExpireDate"> 1404/10/03 </span>
<span id="ctl00_cp1_lblCity">تهران</span>
<span id="ctl00_cp1_lblType">هوایی 7 شب</span>
<span id="ctl00_cp1_lblDepdate">1404/10/05</span>
<span id="ctl00_cp1_lblKargozarTitle">زاگرس</span>
<span id="ctl00_cp1_lblKargozarTell">88820040</span>
<span id="ctl00_cp1_lblAddress">خیابان سپهبد قرنی</span>
<table id="ctl00_cp1_grdReceiptPlan"><tbody>
  <tr><th>ردیف</th><th>ورود</th><th>شهر</th><th>هتل</th><th>خروج</th></tr>
  <tr><td>1</td><td>1404/10/05</td><td>کاظمین</td><td>قرطاج</td><td>1404/10/06</td><td>1</td></tr>
  <tr><td>2</td><td>1404/10/06</td><td>کربلا</td><td>ملک</td><td>1404/10/09</td></tr>
</tbody></table>
<table id="ctl00_cp1_grdPrePassenger"><tbody>
  <tr><th>کد</th></tr>
  <tr><td>17775499</td><td>0820531261</td><td>امین</td><td>زیبایی</td><td>1382/02/27</td><td>34,913,604</td></tr>
  <tr><td>short</td></tr>
</tbody></table>
<a id="ctl00_cp1_EPaymentHyperLinkNew" href="../epay/home/IndexEpay?resID=42">پرداخت</a>
</body></html>`

func TestParseReceipt(t *testing.T) {
	r, err := ParseReceipt("42", receiptHTML)
	require.NoError(t, err)

	assert.Equal(t, "42", r.ResID)
	assert.Equal(t, "1404/10/03", r.ExpireDate)
	assert.Equal(t, "تهران", r.City)
	assert.Equal(t, "زاگرس", r.AgentName)
	assert.Equal(t, "88820040", r.AgentPhone)
	assert.Empty(t, r.ExecutorName)

	require.Len(t, r.Itinerary, 2)
	assert.Equal(t, 1, r.Itinerary[0].Row)
	assert.Equal(t, "کاظمین", r.Itinerary[0].City)
	assert.Equal(t, 1, r.Itinerary[0].StayDuration)
	assert.Equal(t, "1404/10/09", r.Itinerary[1].ExitDate)

	require.Len(t, r.Passengers, 1)
	assert.Equal(t, "0820531261", r.Passengers[0].NationalID)
	assert.Equal(t, int64(34913604), r.Passengers[0].Cost)
	assert.Equal(t, "../epay/home/IndexEpay?resID=42", r.PaymentURL)
}

func TestParseReceipt_NoPaymentLink(t *testing.T) {
	r, err := ParseReceipt("42", `<span id="ctl00_cp1_lblCity">قم</span>`)
	require.NoError(t, err)
	assert.Empty(t, r.PaymentURL)
	assert.Empty(t, r.Passengers)
	assert.NotNil(t, r.Passengers)
}

func TestGetReceipt_ResolvesPaymentLink(t *testing.T) {
	page := newFakePage("about:blank")
	page.html[""] = receiptHTML
	p := newTestPortal(Deps{Pages: &fakePages{page: page, valid: true}, Store: &memStore{}})

	r, err := p.GetReceipt(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, testBase+"/epay/home/IndexEpay?resID=42", r.PaymentURL)
	assert.Contains(t, page.navigated, testBase+receiptPath+"42")

	url, err := p.GetPaymentURL(context.Background(), "42")
	require.NoError(t, err)
	assert.Contains(t, url, "42")
}

func TestGetReceipt_RequiresID(t *testing.T) {
	p := newTestPortal(Deps{Pages: &fakePages{page: newFakePage("")}, Store: &memStore{}})
	_, err := p.GetReceipt(context.Background(), " ")
	assert.Equal(t, errcode.InvalidParams, errcode.CodeOf(err))
}

func TestGetReceipt_LoginRedirect(t *testing.T) {
	page := newFakePage("about:blank")
	page.onNavigate = func(p *fakePage, _ string) { p.url = testBase + "/login.aspx?ReturnUrl=receipt" }
	p := newTestPortal(Deps{Pages: &fakePages{page: page, valid: true}, Store: &memStore{}})

	_, err := p.GetReceipt(context.Background(), "42")
	assert.Equal(t, errcode.SessionExpired, errcode.CodeOf(err))
}
