package services

import "github.com/riptidehq/riptide/pkg/models"

// profileView exposes the hot-path pools of either backing (session blob or
// persistent profile) so the interest and creator services are written once.
// Pool slices are handed out as pointers because pool operations replace the
// slice they act on.
type profileView interface {
	Interests() (top, rising *[]models.CategoryNode)
	Creators() (top, rising *[]models.CreatorNode)
	Watched() *[]models.WatchedEntry
	Skipped() *[]models.SkippedEntry
	Following() *[]models.FollowedCreator
	// Alpha is the EMA weight for this path: reactive for sessions,
	// conservative for direct persistent writes.
	Alpha() float64
}

type sessionView struct {
	sess  *models.Session
	alpha float64
}

func newSessionView(sess *models.Session, alpha float64) sessionView {
	return sessionView{sess: sess, alpha: alpha}
}

func (v sessionView) Interests() (*[]models.CategoryNode, *[]models.CategoryNode) {
	return &v.sess.TopCategories, &v.sess.RisingCategories
}

func (v sessionView) Creators() (*[]models.CreatorNode, *[]models.CreatorNode) {
	return &v.sess.TopCreators, &v.sess.RisingCreators
}

func (v sessionView) Watched() *[]models.WatchedEntry      { return &v.sess.WatchedCreators }
func (v sessionView) Skipped() *[]models.SkippedEntry      { return &v.sess.SkippedCreators }
func (v sessionView) Following() *[]models.FollowedCreator { return &v.sess.FollowedCreators }
func (v sessionView) Alpha() float64                       { return v.alpha }

type profileDocView struct {
	profile *models.UserProfile
	alpha   float64
}

func newProfileDocView(profile *models.UserProfile, alpha float64) profileDocView {
	return profileDocView{profile: profile, alpha: alpha}
}

func (v profileDocView) Interests() (*[]models.CategoryNode, *[]models.CategoryNode) {
	return &v.profile.TopInterests, &v.profile.RisingInterests
}

func (v profileDocView) Creators() (*[]models.CreatorNode, *[]models.CreatorNode) {
	return &v.profile.Creators.TopCreators, &v.profile.Creators.RisingCreators
}

func (v profileDocView) Watched() *[]models.WatchedEntry {
	return &v.profile.Creators.WatchedCreatorsPool
}

func (v profileDocView) Skipped() *[]models.SkippedEntry {
	return &v.profile.Creators.SkippedCreatorsPool
}

func (v profileDocView) Following() *[]models.FollowedCreator { return &v.profile.Following }
func (v profileDocView) Alpha() float64                       { return v.alpha }
